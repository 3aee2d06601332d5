package thread

import (
	"strconv"
	"time"
)

// KeySeparator joins bucket key components. It cannot appear in a normalized
// subject (whitespace is collapsed to plain spaces) or in a domain.
const KeySeparator = "\x1f"

// Bucket is a coarse candidate group: messages sharing a normalized
// subject, a sender domain and an epoch-aligned time window.
type Bucket struct {
	Key      string
	Messages []Message
}

// TimeBucket maps ts to the index of its fixed, epoch-aligned window of
// windowHours hours. Callers validate windowHours > 0; a non-positive value
// yields 0 rather than a division by zero.
func TimeBucket(ts time.Time, windowHours int) int64 {
	if windowHours <= 0 {
		return 0
	}
	size := int64(windowHours) * 3600
	epoch := ts.Unix()
	q := epoch / size
	if epoch%size != 0 && epoch < 0 {
		q--
	}
	return q
}

// BucketKey builds the coarse grouping key for one message.
func BucketKey(m Message, windowHours int) string {
	return NormalizeSubject(m.Subject) + KeySeparator +
		AddressDomain(m.From) + KeySeparator +
		strconv.FormatInt(TimeBucket(m.Date, windowHours), 10)
}

// BucketMessages partitions msgs into buckets. Buckets come back in order
// of first appearance and keep their messages in input order.
//
// Two related messages with different sender domains, or on opposite sides
// of a window boundary, land in different buckets and are never compared.
// That recall loss is accepted in exchange for never comparing unrelated
// mail.
func BucketMessages(msgs []Message, windowHours int) []Bucket {
	index := make(map[string]int)
	buckets := make([]Bucket, 0)
	for _, m := range msgs {
		key := BucketKey(m, windowHours)
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, Bucket{Key: key})
		}
		buckets[i].Messages = append(buckets[i].Messages, m)
	}
	return buckets
}
