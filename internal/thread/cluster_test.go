package thread

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"testing"
	"time"
)

// matrixScorer returns a fixed similarity matrix regardless of the texts.
type matrixScorer [][]float64

func (m matrixScorer) Similarities(texts []string) [][]float64 {
	if len(texts) != len(m) {
		panic(fmt.Sprintf("matrixScorer: %d texts for %dx%d matrix", len(texts), len(m), len(m)))
	}
	return m
}

var t0 = time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

func sampleInbox() []Message {
	return []Message{
		{UID: 10, From: "alice@acme.com", Subject: "Q3 Budget", Date: t0, Text: "Draft of the Q3 budget numbers for marketing and sales teams attached"},
		{UID: 11, From: "bob@acme.com", To: []string{"alice@acme.com"}, Subject: "Re: Q3 Budget", Date: t0.Add(time.Hour), Text: "Thanks. Draft of the Q3 budget numbers for marketing and sales teams attached looks fine"},
		{UID: 12, From: "ci@build.io", Subject: "Build failed", Date: t0.Add(2 * time.Hour), Text: "pipeline main failed at step test"},
		{UID: 13, From: "ci@build.io", Subject: "Build failed", Date: t0.Add(3 * time.Hour), Text: "pipeline main failed at step test"},
		{UID: 14, From: "news@paper.com", Subject: "Morning briefing", Date: t0.Add(200 * time.Hour), Text: "Today in the news"},
		{UID: 15, From: "news@paper.com", Subject: "Morning briefing", Date: t0, Text: "Today in the news"},
		{UID: 16, From: "carol@acme.com", Subject: "Lunch?", Date: t0.Add(30 * time.Minute)},
	}
}

func uidsOf(res Result) [][]uint32 {
	var out [][]uint32
	for _, th := range res.Threads {
		ids := make([]uint32, 0, len(th.Messages))
		for _, m := range th.Messages {
			ids = append(ids, m.UID)
		}
		out = append(out, ids)
	}
	return out
}

func TestClusterPartition(t *testing.T) {
	msgs := sampleInbox()
	res, err := Cluster(msgs, DefaultOptions())
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if res.MessageCount() != len(msgs) {
		t.Fatalf("expected %d messages across threads, got %d", len(msgs), res.MessageCount())
	}

	seen := make(map[uint32]int)
	for _, th := range res.Threads {
		if len(th.Messages) == 0 {
			t.Fatalf("thread %s is empty", th.ID)
		}
		for _, m := range th.Messages {
			seen[m.UID]++
		}
	}
	for _, m := range msgs {
		if seen[m.UID] != 1 {
			t.Errorf("message %d appears %d times", m.UID, seen[m.UID])
		}
	}
}

func TestClusterReplyJoinsThread(t *testing.T) {
	res, err := Cluster(sampleInbox()[:2], DefaultOptions())
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if len(res.Threads) != 1 {
		t.Fatalf("expected one thread, got %d: %v", len(res.Threads), uidsOf(res))
	}
	th := res.Threads[0]
	if th.Messages[0].UID != 10 || th.Messages[1].UID != 11 {
		t.Fatalf("messages not ordered by date: %v", uidsOf(res))
	}
	if th.SubjectFingerprint != "q3 budget" {
		t.Fatalf("fingerprint = %q", th.SubjectFingerprint)
	}
	wantParticipants := []string{"alice@acme.com", "bob@acme.com"}
	if !reflect.DeepEqual(th.Participants, wantParticipants) {
		t.Fatalf("participants = %v, want %v", th.Participants, wantParticipants)
	}
}

func TestClusterFarApartStaySeparate(t *testing.T) {
	msgs := []Message{
		{UID: 1, From: "news@paper.com", Subject: "Morning briefing", Date: t0, Text: "Today in the news"},
		{UID: 2, From: "news@paper.com", Subject: "Morning briefing", Date: t0.Add(200 * time.Hour), Text: "Today in the news"},
	}
	res, err := Cluster(msgs, Options{WindowHours: 72, SimThreshold: 0.55})
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if got := uidsOf(res); !reflect.DeepEqual(got, [][]uint32{{2}, {1}}) {
		t.Fatalf("expected two singleton threads newest first, got %v", got)
	}
}

func TestClusterTransitiveMerge(t *testing.T) {
	msgs := []Message{
		{UID: 1, From: "a@x.org", Subject: "Sync", Date: t0},
		{UID: 2, From: "b@x.org", Subject: "Sync", Date: t0.Add(time.Minute)},
		{UID: 3, From: "c@x.org", Subject: "Sync", Date: t0.Add(2 * time.Minute)},
	}
	scorer := matrixScorer{
		{1, 0.9, 0.1},
		{0.9, 1, 0.9},
		{0.1, 0.9, 1},
	}
	res, err := Cluster(msgs, Options{WindowHours: 72, SimThreshold: 0.55, Scorer: scorer})
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if got := uidsOf(res); !reflect.DeepEqual(got, [][]uint32{{1, 2, 3}}) {
		t.Fatalf("expected one transitive thread, got %v", got)
	}
}

func TestClusterThresholdBoundaryInclusive(t *testing.T) {
	msgs := []Message{
		{UID: 1, From: "a@x.org", Subject: "Sync", Date: t0},
		{UID: 2, From: "b@x.org", Subject: "Sync", Date: t0.Add(time.Minute)},
	}
	scorer := matrixScorer{{1, 0.55}, {0.55, 1}}
	res, err := Cluster(msgs, Options{WindowHours: 72, SimThreshold: 0.55, Scorer: scorer})
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if len(res.Threads) != 1 {
		t.Fatalf("similarity equal to threshold should merge, got %v", uidsOf(res))
	}
}

func TestClusterSingletonNeverScored(t *testing.T) {
	msgs := []Message{{UID: 7, From: "solo@x.org", Subject: "", Date: t0}}
	// a 0x0 matrix would panic if the scorer were called with one text
	res, err := Cluster(msgs, Options{WindowHours: 72, SimThreshold: 0.55, Scorer: matrixScorer{}})
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if len(res.Threads) != 1 || res.Threads[0].Messages[0].UID != 7 {
		t.Fatalf("unexpected result %v", uidsOf(res))
	}
	if res.Threads[0].SubjectFingerprint != "" {
		t.Fatalf("fingerprint = %q, want empty", res.Threads[0].SubjectFingerprint)
	}
}

func TestClusterEmptyInput(t *testing.T) {
	res, err := Cluster(nil, DefaultOptions())
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if len(res.Threads) != 0 {
		t.Fatalf("expected no threads, got %d", len(res.Threads))
	}
}

func TestClusterDeterministicAcrossWorkers(t *testing.T) {
	msgs := sampleInbox()
	seq, err := Cluster(msgs, DefaultOptions())
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	for i := 0; i < 10; i++ {
		opts := DefaultOptions()
		opts.Workers = 4
		par, err := Cluster(msgs, opts)
		if err != nil {
			t.Fatalf("Cluster: %v", err)
		}
		if !reflect.DeepEqual(seq, par) {
			t.Fatalf("parallel run %d differs from sequential:\n%v\n%v", i, uidsOf(seq), uidsOf(par))
		}
	}
}

func TestClusterHigherThresholdRefines(t *testing.T) {
	msgs := sampleInbox()
	partition := func(th float64) map[uint32]string {
		res, err := Cluster(msgs, Options{WindowHours: 72, SimThreshold: th})
		if err != nil {
			t.Fatalf("Cluster(%v): %v", th, err)
		}
		out := make(map[uint32]string)
		for _, tr := range res.Threads {
			for _, m := range tr.Messages {
				out[m.UID] = tr.ID
			}
		}
		return out
	}

	loose := partition(0.1)
	strict := partition(0.99)
	for a := range strict {
		for b := range strict {
			if strict[a] == strict[b] && loose[a] != loose[b] {
				t.Errorf("messages %d and %d share a thread at 0.99 but not at 0.1", a, b)
			}
		}
	}
}

func TestClusterOrderingAndIDs(t *testing.T) {
	res, err := Cluster(sampleInbox(), DefaultOptions())
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if !sort.SliceIsSorted(res.Threads, func(i, j int) bool {
		return res.Threads[i].LastDate().After(res.Threads[j].LastDate())
	}) {
		t.Fatal("threads not ordered newest first")
	}

	ids := make(map[string]bool)
	for _, th := range res.Threads {
		if ids[th.ID] {
			t.Fatalf("duplicate thread id %q", th.ID)
		}
		ids[th.ID] = true
		want := NormalizeSubject(th.Last().Subject)
		if th.SubjectFingerprint != want {
			t.Errorf("thread %s fingerprint %q, want %q", th.ID, th.SubjectFingerprint, want)
		}
	}
}

func TestClusterInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"zero window", Options{WindowHours: 0, SimThreshold: 0.5}, ErrInvalidWindow},
		{"negative window", Options{WindowHours: -3, SimThreshold: 0.5}, ErrInvalidWindow},
		{"zero threshold", Options{WindowHours: 72, SimThreshold: 0}, ErrInvalidThreshold},
		{"threshold above one", Options{WindowHours: 72, SimThreshold: 1.2}, ErrInvalidThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Cluster(sampleInbox(), tt.opts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAssembleThreadStableOnEqualDates(t *testing.T) {
	msgs := []Message{
		{UID: 3, From: "c@x.org", Cc: []string{"a@x.org", ""}, Subject: "Re: Plan", Date: t0},
		{UID: 1, From: "a@x.org", To: []string{"b@x.org"}, Subject: "Plan", Date: t0},
	}
	th := AssembleThread("plan|x.org|1", 2, msgs)
	if th.ID != "plan|x.org|1#2" {
		t.Fatalf("ID = %q", th.ID)
	}
	if th.Messages[0].UID != 3 || th.Messages[1].UID != 1 {
		t.Fatalf("equal dates should keep input order")
	}
	want := []string{"c@x.org", "a@x.org", "b@x.org"}
	if !reflect.DeepEqual(th.Participants, want) {
		t.Fatalf("participants = %v, want %v", th.Participants, want)
	}
	if th.SubjectFingerprint != "plan" {
		t.Fatalf("fingerprint = %q", th.SubjectFingerprint)
	}
}
