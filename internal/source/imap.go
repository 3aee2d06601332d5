package source

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog/log"

	"github.com/hurttlocker/inboxdigest/internal/thread"
)

const fetchBuffer = 16

// IMAPProvider reads unread mail from an IMAP server. The mailbox is opened
// read-only and bodies are fetched with BODY.PEEK so nothing gets marked
// \Seen.
type IMAPProvider struct {
	Host     string
	Port     int
	User     string
	Password string
	TLS      bool
	Timeout  time.Duration
}

func (p *IMAPProvider) Name() string { return "imap" }

func (p *IMAPProvider) dial() (*client.Client, error) {
	addr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	dialer := &net.Dialer{Timeout: p.Timeout}

	var (
		c   *client.Client
		err error
	)
	if p.TLS {
		c, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: p.Host})
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	c.Timeout = p.Timeout
	return c, nil
}

func (p *IMAPProvider) Fetch(ctx context.Context, req FetchRequest) ([]thread.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mailbox := req.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}

	c, err := p.dial()
	if err != nil {
		return nil, err
	}
	defer c.Logout()
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()

	if err := c.Login(p.User, p.Password); err != nil {
		return nil, fmt.Errorf("imap login as %s: %w", p.User, ctxOr(ctx, err))
	}
	if _, err := c.Select(mailbox, true); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", mailbox, ctxOr(ctx, err))
	}

	criteria := imap.NewSearchCriteria()
	if !req.Since.IsZero() {
		criteria.Since = startOfDay(req.Since)
	}
	if !req.IncludeSeen {
		criteria.WithoutFlags = []string{imap.SeenFlag}
	}
	found, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", mailbox, ctxOr(ctx, err))
	}

	uids := found[:0]
	for _, uid := range found {
		if uid > req.AfterUID {
			uids = append(uids, uid)
		}
	}
	if len(uids) == 0 {
		return nil, nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	log.Debug().Str("mailbox", mailbox).Int("count", len(uids)).Msg("fetching messages")

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, fetchBuffer)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, ch)
	}()

	out := make([]thread.Message, 0, len(uids))
	for raw := range ch {
		body := raw.GetBody(section)
		if body == nil {
			log.Warn().Uint32("uid", raw.Uid).Msg("server returned no body, skipping")
			continue
		}
		data, err := io.ReadAll(body)
		if err != nil {
			log.Warn().Err(err).Uint32("uid", raw.Uid).Msg("reading body, skipping")
			continue
		}
		msg, err := ParseMessage(data, mailbox, raw.Uid, req.Since)
		if err != nil {
			log.Warn().Err(err).Uint32("uid", raw.Uid).Msg("unparseable message, skipping")
			continue
		}
		out = append(out, msg)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetching from %s: %w", mailbox, ctxOr(ctx, err))
	}

	sortByUID(out)
	return out, nil
}

// ctxOr prefers the context error when the connection was torn down by
// cancellation.
func ctxOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
