package thread

import (
	"math"
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	got := tokenize("Hello, a World! q3_budget 42 x 会议")
	want := []string{"hello", "world", "q3_budget", "42", "会议"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tokenize = %v, want %v", got, want)
	}
}

func TestNgrams(t *testing.T) {
	got := ngrams([]string{"a1", "b2", "c3"}, 2)
	want := []string{"a1", "b2", "c3", "a1 b2", "b2 c3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ngrams = %v, want %v", got, want)
	}
}

func TestTFIDFSimilaritiesShape(t *testing.T) {
	texts := []string{
		"server down in region east",
		"server down in region east again",
		"lunch menu for friday",
		"",
	}
	sim := TFIDFScorer{}.Similarities(texts)

	if len(sim) != len(texts) {
		t.Fatalf("expected %d rows, got %d", len(texts), len(sim))
	}
	for i := range sim {
		for j := range sim {
			if sim[i][j] != sim[j][i] {
				t.Fatalf("matrix not symmetric at (%d,%d)", i, j)
			}
			if sim[i][j] < 0 || sim[i][j] > 1+1e-9 {
				t.Fatalf("similarity out of range at (%d,%d): %f", i, j, sim[i][j])
			}
		}
	}
	if math.Abs(sim[0][0]-1) > 1e-9 {
		t.Errorf("self similarity = %f, want 1", sim[0][0])
	}
	if sim[0][1] < 0.7 {
		t.Errorf("near-duplicates should score high, got %f", sim[0][1])
	}
	if sim[0][2] != 0 {
		t.Errorf("disjoint texts should score 0, got %f", sim[0][2])
	}
	for j := range texts {
		if sim[3][j] != 0 {
			t.Errorf("empty text should score 0 against %d, got %f", j, sim[3][j])
		}
	}
}

func TestTFIDFMaxFeaturesCap(t *testing.T) {
	s := TFIDFScorer{MaxFeatures: 1, MaxNGram: 1}
	vecs := s.vectorize([]string{"alpha alpha beta", "alpha gamma"})
	for i, v := range vecs {
		if len(v.idx) != 1 {
			t.Fatalf("doc %d: expected exactly the single kept feature, got %v", i, v.idx)
		}
	}
}

func TestTFIDFDeterministic(t *testing.T) {
	texts := []string{"a quick brown fox", "the quick brown dog", "brown bears eat fish"}
	first := TFIDFScorer{}.Similarities(texts)
	for i := 0; i < 5; i++ {
		if !reflect.DeepEqual(first, TFIDFScorer{}.Similarities(texts)) {
			t.Fatal("similarities differ between runs")
		}
	}
}
