package thread

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

const (
	defaultMaxFeatures = 5000
	defaultMaxNGram    = 2
)

var tokenRe = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+`)

// Scorer computes a symmetric pairwise similarity matrix for a set of
// texts. Implementations must be deterministic and depend only on the
// texts they are given.
type Scorer interface {
	Similarities(texts []string) [][]float64
}

// TFIDFScorer vectorizes texts with TF-IDF over word n-grams fitted on the
// given texts alone, and scores pairs by cosine similarity.
type TFIDFScorer struct {
	MaxFeatures int // vocabulary cap, most frequent terms kept (default 5000)
	MaxNGram    int // longest n-gram (default 2: unigrams and bigrams)
}

// sparseVec is a sorted feature-index -> weight list.
type sparseVec struct {
	idx []int
	val []float64
}

func (s TFIDFScorer) maxFeatures() int {
	if s.MaxFeatures <= 0 {
		return defaultMaxFeatures
	}
	return s.MaxFeatures
}

func (s TFIDFScorer) maxNGram() int {
	if s.MaxNGram <= 0 {
		return defaultMaxNGram
	}
	return s.MaxNGram
}

// Similarities implements Scorer.
func (s TFIDFScorer) Similarities(texts []string) [][]float64 {
	vecs := s.vectorize(texts)
	n := len(vecs)
	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		if len(vecs[i].idx) > 0 {
			sim[i][i] = 1
		}
		for j := i + 1; j < n; j++ {
			v := dot(vecs[i], vecs[j])
			sim[i][j] = v
			sim[j][i] = v
		}
	}
	return sim
}

func (s TFIDFScorer) vectorize(texts []string) []sparseVec {
	docs := make([]map[string]int, len(texts))
	corpusFreq := make(map[string]int)
	docFreq := make(map[string]int)
	for i, text := range texts {
		counts := make(map[string]int)
		for _, term := range ngrams(tokenize(text), s.maxNGram()) {
			counts[term]++
		}
		for term, c := range counts {
			corpusFreq[term] += c
			docFreq[term]++
		}
		docs[i] = counts
	}

	vocab := make([]string, 0, len(corpusFreq))
	for term := range corpusFreq {
		vocab = append(vocab, term)
	}
	sort.Slice(vocab, func(i, j int) bool {
		if corpusFreq[vocab[i]] != corpusFreq[vocab[j]] {
			return corpusFreq[vocab[i]] > corpusFreq[vocab[j]]
		}
		return vocab[i] < vocab[j]
	})
	if len(vocab) > s.maxFeatures() {
		vocab = vocab[:s.maxFeatures()]
	}
	sort.Strings(vocab)

	n := float64(len(texts))
	feature := make(map[string]int, len(vocab))
	idf := make([]float64, len(vocab))
	for i, term := range vocab {
		feature[term] = i
		idf[i] = math.Log((1+n)/(1+float64(docFreq[term]))) + 1
	}

	vecs := make([]sparseVec, len(docs))
	for d, counts := range docs {
		var v sparseVec
		for term := range counts {
			f, ok := feature[term]
			if !ok {
				continue
			}
			v.idx = append(v.idx, f)
		}
		sort.Ints(v.idx)
		v.val = make([]float64, len(v.idx))
		norm := 0.0
		for k, f := range v.idx {
			w := float64(counts[vocab[f]]) * idf[f]
			v.val[k] = w
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for k := range v.val {
				v.val[k] /= norm
			}
		}
		vecs[d] = v
	}
	return vecs
}

// tokenize lowercases text and returns word tokens of at least two runes.
func tokenize(text string) []string {
	words := tokenRe.FindAllString(strings.ToLower(text), -1)
	tokens := words[:0]
	for _, w := range words {
		if len([]rune(w)) >= 2 {
			tokens = append(tokens, w)
		}
	}
	return tokens
}

// ngrams returns all 1..maxN grams of tokens, space-joined.
func ngrams(tokens []string, maxN int) []string {
	out := make([]string, 0, len(tokens)*maxN)
	for n := 1; n <= maxN; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}

func dot(a, b sparseVec) float64 {
	sum := 0.0
	i, j := 0, 0
	for i < len(a.idx) && j < len(b.idx) {
		switch {
		case a.idx[i] == b.idx[j]:
			sum += a.val[i] * b.val[j]
			i++
			j++
		case a.idx[i] < b.idx[j]:
			i++
		default:
			j++
		}
	}
	return sum
}
