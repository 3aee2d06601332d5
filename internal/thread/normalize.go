package thread

import (
	"net/mail"
	"regexp"
	"strings"
)

var (
	replyPrefixRe = regexp.MustCompile(`(?i)^(?:re|fwd?)\s*[:：\-－]\s*`)
	subjectTagRe  = regexp.MustCompile(`\[[^\]]{1,20}\]|\(#\d+\)|\b[A-Z]{2,5}-\d+\b`)
	spaceRunRe    = regexp.MustCompile(`[\s\p{Z}]+`)
)

// NormalizeSubject canonicalizes a subject line so that replies, forwards
// and ticket-tagged variants of the same subject compare equal.
//
// One pass trims, strips a single leading Re:/Fw:/Fwd: marker, removes
// bracketed tags, "(#123)" references and ticket codes such as OPS-482,
// collapses whitespace and lowercases. Passes repeat until the string stops
// changing, which keeps the function idempotent for stacked markers like
// "Re: Re: x". As a result "Re: Re: x" and "x" share a bucket; a single
// stripping pass would have kept them apart.
func NormalizeSubject(subject string) string {
	s := normalizeOnce(subject)
	for {
		next := normalizeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func normalizeOnce(subject string) string {
	s := strings.TrimSpace(subject)
	if s == "" {
		return ""
	}
	s = replyPrefixRe.ReplaceAllString(s, "")
	s = subjectTagRe.ReplaceAllString(s, "")
	s = spaceRunRe.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// AddressDomain returns the lowercased domain of a free-form address such
// as "Jane Doe <jane@Example.com>" or "jane@example.com". It returns ""
// when no domain can be found.
func AddressDomain(address string) string {
	raw := strings.TrimSpace(address)
	if raw == "" {
		return ""
	}

	addr := raw
	if parsed, err := mail.ParseAddress(raw); err == nil {
		addr = parsed.Address
	} else if open := strings.LastIndex(raw, "<"); open >= 0 {
		rest := raw[open+1:]
		if end := strings.Index(rest, ">"); end >= 0 {
			rest = rest[:end]
		}
		addr = rest
	}

	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(addr[at+1:], " \t<>\"'"))
}
