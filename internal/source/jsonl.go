package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"

	"github.com/hurttlocker/inboxdigest/internal/thread"
)

const maxJSONLLine = 16 << 20

// JSONLProvider reads messages from a file holding one JSON object per line,
// in the same shape thread.Message marshals to.
type JSONLProvider struct {
	Path string
}

func (p *JSONLProvider) Name() string { return "jsonl" }

func (p *JSONLProvider) Fetch(ctx context.Context, req FetchRequest) ([]thread.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Path == "" {
		return nil, fmt.Errorf("jsonl source needs an input file")
	}
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", p.Path, err)
	}
	defer f.Close()

	msgs, err := DecodeJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Path, err)
	}

	out := msgs[:0]
	for _, m := range msgs {
		if m.Mailbox == "" {
			m.Mailbox = req.Mailbox
		}
		if req.keep(m) {
			out = append(out, m)
		}
	}
	sortByUID(out)
	return out, nil
}

// DecodeJSONL parses one message per non-blank line. Messages without a UID
// get their 1-based line number.
func DecodeJSONL(r io.Reader) ([]thread.Message, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxJSONLLine)

	var msgs []thread.Message
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var m thread.Message
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if m.UID == 0 {
			m.UID = uint32(line)
		}
		msgs = append(msgs, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return msgs, nil
}
