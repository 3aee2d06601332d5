// Package source fetches mail messages for threading.
//
// A Provider turns some external mailbox (an IMAP server, a JSONL export)
// into thread.Message values. Providers never touch persistent state: the
// caller passes the incremental cursor in FetchRequest and records progress
// itself.
package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hurttlocker/inboxdigest/internal/thread"
)

// Provider is implemented by every message source.
type Provider interface {
	// Name returns the unique provider identifier (e.g., "imap", "jsonl").
	Name() string

	// Fetch returns the messages matching req, sorted by UID.
	Fetch(ctx context.Context, req FetchRequest) ([]thread.Message, error)
}

// FetchRequest selects messages from a mailbox.
type FetchRequest struct {
	Mailbox string

	// Since drops messages older than this day. Zero means no lower bound.
	Since time.Time

	// AfterUID drops messages with UID <= AfterUID. Zero keeps everything.
	AfterUID uint32

	// IncludeSeen also returns messages already flagged \Seen.
	IncludeSeen bool
}

// Registry holds all registered providers. Thread-safe.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry. Panics on duplicate names.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.providers[name]; exists {
		panic(fmt.Sprintf("source: duplicate provider registration: %s", name))
	}
	r.providers[name] = p
}

// Get returns a provider by name, or nil if not found.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// keep applies the Since and AfterUID filters shared by all providers.
func (req FetchRequest) keep(m thread.Message) bool {
	if req.AfterUID > 0 && m.UID <= req.AfterUID {
		return false
	}
	if !req.Since.IsZero() && m.Date.Before(startOfDay(req.Since)) {
		return false
	}
	return true
}

// startOfDay truncates to midnight in t's own zone, matching IMAP SINCE
// which compares whole dates.
func startOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}

func sortByUID(msgs []thread.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].UID < msgs[j].UID })
}
