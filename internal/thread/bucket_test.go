package thread

import (
	"strings"
	"testing"
	"time"
)

func TestTimeBucketEpochAligned(t *testing.T) {
	const window = 72
	size := int64(window * 3600)
	boundary := time.Unix(size*1000, 0).UTC()

	before := boundary.Add(-30 * time.Minute)
	after := boundary.Add(30 * time.Minute)
	if TimeBucket(before, window) == TimeBucket(after, window) {
		t.Fatalf("timestamps one hour apart across a boundary must not share a bucket")
	}
	if got := TimeBucket(boundary, window); got != 1000 {
		t.Fatalf("TimeBucket(boundary) = %d, want 1000", got)
	}

	early := boundary.Add(time.Minute)
	late := boundary.Add(71 * time.Hour)
	if TimeBucket(early, window) != TimeBucket(late, window) {
		t.Fatalf("timestamps inside one window must share a bucket")
	}
}

func TestTimeBucketZoneIndependent(t *testing.T) {
	utc := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	tokyo := utc.In(time.FixedZone("JST", 9*3600))
	if TimeBucket(utc, 24) != TimeBucket(tokyo, 24) {
		t.Fatal("same instant in different zones must map to the same bucket")
	}
}

func TestTimeBucketNegativeEpochFloors(t *testing.T) {
	if got := TimeBucket(time.Unix(-1, 0), 1); got != -1 {
		t.Fatalf("TimeBucket(-1s) = %d, want -1", got)
	}
	if got := TimeBucket(time.Unix(0, 0), 1); got != 0 {
		t.Fatalf("TimeBucket(0) = %d, want 0", got)
	}
}

func TestTimeBucketNonPositiveWindow(t *testing.T) {
	if got := TimeBucket(time.Now(), 0); got != 0 {
		t.Fatalf("TimeBucket with zero window = %d, want 0", got)
	}
}

func TestBucketMessagesOrderAndKeys(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	msgs := []Message{
		{UID: 1, From: "a@x.com", Subject: "Launch plan", Date: base},
		{UID: 2, From: "b@y.com", Subject: "Launch plan", Date: base},
		{UID: 3, From: "c@X.com", Subject: "Re: Launch plan", Date: base.Add(time.Hour)},
		{UID: 4, From: "a@x.com", Subject: "Other", Date: base},
	}

	buckets := BucketMessages(msgs, 72)
	if len(buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(buckets))
	}

	first := buckets[0]
	if len(first.Messages) != 2 || first.Messages[0].UID != 1 || first.Messages[1].UID != 3 {
		t.Fatalf("first bucket should hold UIDs 1 and 3 in input order, got %+v", first.Messages)
	}
	if !strings.HasPrefix(first.Key, "launch plan"+KeySeparator+"x.com"+KeySeparator) {
		t.Fatalf("unexpected key %q", first.Key)
	}
	if buckets[1].Messages[0].UID != 2 || buckets[2].Messages[0].UID != 4 {
		t.Fatalf("buckets not in first-appearance order")
	}
}

func TestBucketMessagesEmpty(t *testing.T) {
	if got := BucketMessages(nil, 72); len(got) != 0 {
		t.Fatalf("expected no buckets, got %d", len(got))
	}
}

func TestBucketKeyStackedMarkersShareBucket(t *testing.T) {
	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	plain := Message{From: "a@acme.com", Subject: "Quarterly numbers", Date: at}
	stacked := Message{From: "b@acme.com", Subject: "Re: Re: Quarterly numbers", Date: at.Add(time.Hour)}
	if BucketKey(plain, 72) != BucketKey(stacked, 72) {
		t.Fatalf("stacked reply markers must land in the original's bucket: %q vs %q",
			BucketKey(plain, 72), BucketKey(stacked, 72))
	}
}
