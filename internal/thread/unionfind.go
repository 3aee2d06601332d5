package thread

// UnionFind is an array-backed disjoint-set over the indices 0..n-1 with
// path compression and union by rank.
type UnionFind struct {
	parent []int
	rank   []uint8
}

// NewUnionFind creates n singleton sets.
func NewUnionFind(n int) *UnionFind {
	uf := &UnionFind{
		parent: make([]int, n),
		rank:   make([]uint8, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

// Find returns the representative of x's set.
func (uf *UnionFind) Find(x int) int {
	root := x
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[x] != root {
		next := uf.parent[x]
		uf.parent[x] = root
		x = next
	}
	return root
}

// Union merges the sets containing a and b.
func (uf *UnionFind) Union(a, b int) {
	ra, rb := uf.Find(a), uf.Find(b)
	if ra == rb {
		return
	}
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[ra] > uf.rank[rb]:
		uf.parent[rb] = ra
	default:
		uf.parent[rb] = ra
		uf.rank[ra]++
	}
}

// Components groups 0..n-1 by representative. Components are ordered by
// their smallest member and members are ascending.
func (uf *UnionFind) Components() [][]int {
	slot := make(map[int]int)
	components := make([][]int, 0)
	for i := range uf.parent {
		root := uf.Find(i)
		c, ok := slot[root]
		if !ok {
			c = len(components)
			slot[root] = c
			components = append(components, nil)
		}
		components[c] = append(components[c], i)
	}
	return components
}
