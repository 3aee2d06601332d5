package source

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/hurttlocker/inboxdigest/internal/thread"
)

const maxMIMEDepth = 8

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

var addressParser = &mail.AddressParser{WordDecoder: wordDecoder}

// charsetReader maps any WHATWG-known charset label to UTF-8.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

// ParseMessage converts one RFC 822 message into a thread.Message. Headers
// are RFC 2047 decoded; a missing or broken Date falls back to fallback.
// Only unreadable headers are an error: a body that cannot be decoded
// leaves Text empty.
func ParseMessage(raw []byte, mailbox string, uid uint32, fallback time.Time) (thread.Message, error) {
	m, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return thread.Message{}, fmt.Errorf("reading message %d: %w", uid, err)
	}

	msg := thread.Message{
		UID:       uid,
		Mailbox:   mailbox,
		Subject:   decodeHeader(m.Header.Get("Subject")),
		From:      decodeHeader(m.Header.Get("From")),
		MessageID: strings.TrimSpace(m.Header.Get("Message-Id")),
		To:        addresses(m.Header, "To"),
		Cc:        addresses(m.Header, "Cc"),
		Date:      fallback,
	}
	if d, err := m.Header.Date(); err == nil {
		msg.Date = d
	}

	text, err := bodyText(textproto.MIMEHeader(m.Header), m.Body)
	if err != nil {
		log.Warn().Err(err).Uint32("uid", uid).Str("mailbox", mailbox).Msg("undecodable body, keeping headers only")
		text = ""
	}
	msg.Text = text
	return msg, nil
}

func decodeHeader(v string) string {
	if v == "" {
		return ""
	}
	out, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return out
}

// addresses returns the bare addresses of every occurrence of header key.
func addresses(h mail.Header, key string) []string {
	var out []string
	for _, v := range h[textproto.CanonicalMIMEHeaderKey(key)] {
		list, err := addressParser.ParseList(v)
		if err != nil {
			for _, raw := range strings.Split(v, ",") {
				if a := strings.TrimSpace(raw); a != "" {
					out = append(out, a)
				}
			}
			continue
		}
		for _, a := range list {
			out = append(out, a.Address)
		}
	}
	return out
}

type mimePart struct {
	mediaType string
	text      string
}

// bodyText picks the first text/plain part, else the first text/html part
// rendered to text. A single-part message of any other type is returned
// decoded as-is.
func bodyText(h textproto.MIMEHeader, body io.Reader) (string, error) {
	mediaType, _, _ := parseContentType(h.Get("Content-Type"))
	var parts []mimePart
	if err := walkParts(h, body, &parts, 0); err != nil {
		return "", err
	}

	for _, p := range parts {
		if p.mediaType == "text/plain" {
			return p.text, nil
		}
	}
	for _, p := range parts {
		if p.mediaType == "text/html" {
			return HTMLToText(p.text), nil
		}
	}
	if !strings.HasPrefix(mediaType, "multipart/") && len(parts) == 1 {
		return parts[0].text, nil
	}
	return "", nil
}

func walkParts(h textproto.MIMEHeader, body io.Reader, out *[]mimePart, depth int) error {
	mediaType, params, err := parseContentType(h.Get("Content-Type"))
	if err != nil {
		mediaType, params = "text/plain", nil
	}

	if strings.HasPrefix(mediaType, "multipart/") && depth < maxMIMEDepth {
		boundary := params["boundary"]
		if boundary == "" {
			return errors.New("multipart message without boundary")
		}
		mr := multipart.NewReader(body, boundary)
		for {
			p, err := mr.NextRawPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				// Truncated trailing parts are common; keep what was read.
				if len(*out) > 0 {
					return nil
				}
				return err
			}
			if err := walkParts(p.Header, p, out, depth+1); err != nil {
				return err
			}
		}
	}

	if isAttachment(h.Get("Content-Disposition")) {
		return nil
	}

	data, err := io.ReadAll(transferDecoder(h.Get("Content-Transfer-Encoding"), body))
	if err != nil {
		return err
	}
	*out = append(*out, mimePart{mediaType: mediaType, text: decodeCharset(data, params["charset"])})
	return nil
}

func parseContentType(v string) (string, map[string]string, error) {
	if strings.TrimSpace(v) == "" {
		return "text/plain", map[string]string{}, nil
	}
	mediaType, params, err := mime.ParseMediaType(v)
	if err != nil {
		return "", nil, err
	}
	return strings.ToLower(mediaType), params, nil
}

func isAttachment(disposition string) bool {
	d, _, err := mime.ParseMediaType(disposition)
	return err == nil && strings.EqualFold(d, "attachment")
}

func transferDecoder(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

// decodeCharset converts data to UTF-8. Unknown charsets and undecodable
// bytes degrade to replacement characters rather than failing.
func decodeCharset(data []byte, charset string) string {
	charset = strings.TrimSpace(charset)
	if charset != "" && !strings.EqualFold(charset, "utf-8") && !strings.EqualFold(charset, "us-ascii") {
		if enc, err := htmlindex.Get(charset); err == nil {
			if out, err := enc.NewDecoder().Bytes(data); err == nil {
				return string(out)
			}
		}
	}
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}
