package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hurttlocker/inboxdigest/internal/render"
	"github.com/hurttlocker/inboxdigest/internal/source"
	"github.com/hurttlocker/inboxdigest/internal/store"
	"github.com/hurttlocker/inboxdigest/internal/telemetry"
	"github.com/hurttlocker/inboxdigest/internal/thread"
)

const (
	TitleDigest  = "Mail To-Do / Summary"
	TitleEmpty   = "Mail To-Do"
	TitleThreads = "Mail Threads"

	noNewMail = "_No new unread mail._"
)

// Pipeline wires a message source, the thread engine, a summarizer and the
// state tracker.
type Pipeline struct {
	Source     source.Provider
	State      *store.Store     // nil = stateless
	Summarizer *Summarizer      // may be nil for dry runs
	Cluster    thread.Options   // zero value = thread.DefaultOptions()
	Now        func() time.Time // nil = time.Now

	Counters *telemetry.Counters // nil = counters on the global meter provider
}

// Request describes one digest run.
type Request struct {
	Mailbox     string
	Since       time.Time
	Instruction string
	Rescan      bool // ignore the incremental cursor and processed list
	IncludeSeen bool
	DryRun      bool // skip the LLM and every state write
}

// Report is the outcome of one run.
type Report struct {
	RunID    string
	Messages []thread.Message
	Result   thread.Result
	Body     string
	Document string
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Run executes fetch → filter → cluster → summarize → render and, unless
// req.DryRun is set, persists the new cursor and records the run.
func (p *Pipeline) Run(ctx context.Context, req Request) (Report, error) {
	if p.Source == nil {
		return Report{}, fmt.Errorf("pipeline has no message source")
	}
	counters := p.Counters
	if counters == nil {
		c, err := telemetry.NewCounters(nil)
		if err != nil {
			return Report{}, err
		}
		counters = c
	}
	started := p.now()
	logger := log.With().Str("source", p.Source.Name()).Str("mailbox", req.Mailbox).Logger()

	msgs, err := p.fetch(ctx, req)
	if err != nil {
		return Report{}, err
	}
	counters.Fetched.Add(ctx, int64(len(msgs)))
	logger.Info().Int("messages", len(msgs)).Msg("fetched")

	if len(msgs) == 0 {
		return Report{Body: noNewMail, Document: render.Document(TitleEmpty, noNewMail, p.now())}, nil
	}

	opts := p.Cluster
	if opts.WindowHours == 0 && opts.SimThreshold == 0 {
		opts = thread.DefaultOptions()
	}
	res, err := thread.Cluster(msgs, opts)
	if err != nil {
		return Report{}, fmt.Errorf("clustering: %w", err)
	}
	counters.Clustered.Add(ctx, int64(len(msgs)))
	counters.Threads.Add(ctx, int64(len(res.Threads)))
	logger.Info().Int("threads", len(res.Threads)).Msg("clustered")

	rep := Report{Messages: msgs, Result: res}
	if req.DryRun {
		rep.Body = render.ThreadsText(res, p.now())
		rep.Document = render.Document(TitleThreads, rep.Body, p.now())
		return rep, nil
	}
	if p.Summarizer == nil {
		return Report{}, fmt.Errorf("pipeline has no summarizer")
	}

	body, sumErr := p.Summarizer.Summarize(ctx, res.Threads, req.Instruction)
	if sumErr != nil {
		logger.Error().Err(sumErr).Msg("summarize failed")
		p.record(ctx, store.Run{
			Mailbox: req.Mailbox, Source: p.Source.Name(),
			StartedAt: started, FinishedAt: p.now(),
			Messages: len(msgs), Threads: len(res.Threads), Error: sumErr.Error(),
		})
		return Report{}, sumErr
	}
	rep.Body = body
	rep.Document = render.Document(TitleDigest, body, p.now())

	if err := p.commit(ctx, req.Mailbox, msgs); err != nil {
		return Report{}, err
	}
	rep.RunID = p.record(ctx, store.Run{
		Mailbox: req.Mailbox, Source: p.Source.Name(),
		StartedAt: started, FinishedAt: p.now(),
		Messages: len(msgs), Threads: len(res.Threads),
		Output: rep.Document, OutputHash: store.HashDigest(rep.Document),
	})
	logger.Info().Str("run", rep.RunID).Dur("took", p.now().Sub(started)).Msg("digest done")
	return rep, nil
}

func (p *Pipeline) fetch(ctx context.Context, req Request) ([]thread.Message, error) {
	freq := source.FetchRequest{Mailbox: req.Mailbox, Since: req.Since, IncludeSeen: req.IncludeSeen}
	useState := p.State != nil && !req.Rescan
	if useState {
		last, err := p.State.LastSeenUID(ctx, req.Mailbox)
		if err != nil {
			return nil, err
		}
		freq.AfterUID = last
	}

	msgs, err := p.Source.Fetch(ctx, freq)
	if err != nil {
		return nil, fmt.Errorf("fetching from %s: %w", p.Source.Name(), err)
	}
	if !useState {
		return msgs, nil
	}

	kept := msgs[:0:0]
	for _, m := range msgs {
		done, err := p.State.IsProcessed(ctx, req.Mailbox, m.UID)
		if err != nil {
			return nil, err
		}
		if !done {
			kept = append(kept, m)
		}
	}
	if skipped := len(msgs) - len(kept); skipped > 0 {
		log.Debug().Int("skipped", skipped).Msg("already processed")
	}
	return kept, nil
}

func (p *Pipeline) commit(ctx context.Context, mailbox string, msgs []thread.Message) error {
	if p.State == nil {
		return nil
	}
	var maxUID uint32
	uids := make([]uint32, len(msgs))
	for i, m := range msgs {
		uids[i] = m.UID
		maxUID = max(maxUID, m.UID)
	}
	if err := p.State.SetLastSeenUID(ctx, mailbox, maxUID); err != nil {
		return err
	}
	return p.State.MarkProcessed(ctx, mailbox, uids, store.DefaultMaxProcessed)
}

// record logs a run; a failure to write the run log never fails the digest.
func (p *Pipeline) record(ctx context.Context, r store.Run) string {
	if p.State == nil {
		return ""
	}
	id, err := p.State.RecordRun(ctx, r)
	if err != nil {
		log.Warn().Err(err).Msg("recording run")
		return ""
	}
	return id
}
