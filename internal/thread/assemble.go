package thread

import (
	"sort"
	"strconv"
)

// AssembleThread builds a Thread from one component of a bucket.
//
// Messages are ordered by date (stable, so equal timestamps keep bucket
// order). Participants are collected sender, To, Cc per message in that
// order, first occurrence wins, empty strings skipped, case kept as given.
// The fingerprint comes from the most recent message's subject.
func AssembleThread(bucketKey string, componentIndex int, msgs []Message) Thread {
	ordered := make([]Message, len(msgs))
	copy(ordered, msgs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.Before(ordered[j].Date)
	})

	seen := make(map[string]struct{})
	participants := make([]string, 0)
	add := func(addr string) {
		if addr == "" {
			return
		}
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		participants = append(participants, addr)
	}
	for _, m := range ordered {
		add(m.From)
		for _, a := range m.To {
			add(a)
		}
		for _, a := range m.Cc {
			add(a)
		}
	}

	t := Thread{
		ID:           bucketKey + "#" + strconv.Itoa(componentIndex),
		Participants: participants,
		Messages:     ordered,
	}
	t.SubjectFingerprint = NormalizeSubject(t.Last().Subject)
	return t
}
