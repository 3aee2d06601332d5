package thread

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultWindowHours  = 72
	DefaultSimThreshold = 0.55
)

var (
	ErrInvalidWindow    = errors.New("window hours must be a positive integer")
	ErrInvalidThreshold = errors.New("similarity threshold must be in (0, 1]")
)

// Options configures one clustering run.
type Options struct {
	WindowHours  int
	SimThreshold float64
	Scorer       Scorer // nil = TFIDFScorer defaults
	Workers      int    // buckets processed concurrently; <= 1 is sequential
}

// DefaultOptions returns the standard 72h window, 0.55 threshold, TF-IDF
// scoring and sequential processing.
func DefaultOptions() Options {
	return Options{
		WindowHours:  DefaultWindowHours,
		SimThreshold: DefaultSimThreshold,
		Scorer:       TFIDFScorer{},
		Workers:      1,
	}
}

// Validate rejects a non-positive window and a threshold outside (0, 1].
func (o Options) Validate() error {
	if o.WindowHours <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidWindow, o.WindowHours)
	}
	if !(o.SimThreshold > 0 && o.SimThreshold <= 1) {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, o.SimThreshold)
	}
	return nil
}

// Cluster groups msgs into threads ordered newest first by each thread's
// last message. Every input message ends up in exactly one thread. The
// only error is an invalid Options value.
func Cluster(msgs []Message, opts Options) (Result, error) {
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	scorer := opts.Scorer
	if scorer == nil {
		scorer = TFIDFScorer{}
	}

	buckets := BucketMessages(msgs, opts.WindowHours)
	perBucket := make([][]Thread, len(buckets))

	if opts.Workers > 1 && len(buckets) > 1 {
		var g errgroup.Group
		g.SetLimit(opts.Workers)
		for i := range buckets {
			g.Go(func() error {
				perBucket[i] = clusterBucket(buckets[i], opts.SimThreshold, scorer)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, b := range buckets {
			perBucket[i] = clusterBucket(b, opts.SimThreshold, scorer)
		}
	}

	threads := make([]Thread, 0, len(buckets))
	for _, ts := range perBucket {
		threads = append(threads, ts...)
	}
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].LastDate().After(threads[j].LastDate())
	})

	return Result{Threads: threads}, nil
}

func clusterBucket(b Bucket, threshold float64, scorer Scorer) []Thread {
	components := MergeBucket(b.Messages, threshold, scorer)
	threads := make([]Thread, 0, len(components))
	for k, idxs := range components {
		members := make([]Message, len(idxs))
		for n, i := range idxs {
			members[n] = b.Messages[i]
		}
		threads = append(threads, AssembleThread(b.Key, k, members))
	}
	return threads
}
