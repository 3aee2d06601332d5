package thread

const snippetBodyRunes = 500

// Snippet is the text a message contributes to similarity scoring: the
// normalized subject, a blank line, then the first 500 runes of the body.
func Snippet(m Message) string {
	body := []rune(m.Text)
	if len(body) > snippetBodyRunes {
		body = body[:snippetBodyRunes]
	}
	return NormalizeSubject(m.Subject) + "\n\n" + string(body)
}

// MergeBucket splits one bucket into connected components of messages whose
// pairwise similarity is at least threshold. It returns index groups into
// msgs, ordered by smallest member.
//
// A single message is its own component and is never scored. Union-find
// closure is transitive: A~B and B~C merge A, B and C even when A and C
// score below the threshold.
func MergeBucket(msgs []Message, threshold float64, scorer Scorer) [][]int {
	n := len(msgs)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return [][]int{{0}}
	}
	if scorer == nil {
		scorer = TFIDFScorer{}
	}

	snippets := make([]string, n)
	for i, m := range msgs {
		snippets[i] = Snippet(m)
	}
	sim := scorer.Similarities(snippets)

	uf := NewUnionFind(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if sim[i][j] >= threshold {
				uf.Union(i, j)
			}
		}
	}
	return uf.Components()
}
