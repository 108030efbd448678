// Package mailheader parses the minimal set of RFC 5322 headers the
// pipeline needs for fingerprinting and address filtering, using
// go-message/mail rather than splitting raw header strings on commas.
package mailheader

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// Headers is the small, explicit set of fields the pipeline reasons about.
// Every field is optional; a missing or unparseable header leaves its Go
// zero value rather than panicking or erroring the whole parse.
type Headers struct {
	MessageIDNorm string
	Date          time.Time
	DateRaw       string
	From          string
	To            []string
	Cc            []string
	Bcc           []string
	DeliveredTo   []string
	XOriginalTo   []string
	EnvelopeTo    []string
	Subject       string
}

// Parse reads the RFC 5322 headers (and only the headers; go-message does
// not eagerly decode the body) out of a raw message.
func Parse(raw []byte) (*Headers, error) {
	entity, err := message.Read(strings.NewReader(string(raw)))
	if err != nil && entity == nil {
		return nil, fmt.Errorf("parsing message headers: %w", err)
	}
	h := mail.Header{Header: entity.Header}

	out := &Headers{}

	if msgID, err := h.MessageID(); err == nil && msgID != "" {
		out.MessageIDNorm = NormalizeMessageID(msgID)
	}
	out.DateRaw = entity.Header.Get("Date")
	if date, err := h.Date(); err == nil {
		out.Date = date
	}
	out.From = firstAddress(h, "From")
	out.To = addressStrings(h, "To")
	out.Cc = addressStrings(h, "Cc")
	out.Bcc = addressStrings(h, "Bcc")
	out.DeliveredTo = addressStrings(h, "Delivered-To")
	out.XOriginalTo = addressStrings(h, "X-Original-To")
	out.EnvelopeTo = addressStrings(h, "Envelope-To")
	if subject, err := h.Subject(); err == nil {
		out.Subject = collapseWhitespace(subject)
	}

	return out, nil
}

// NormalizeMessageID lowercases and wraps a Message-Id in angle brackets,
// stripping any surrounding whitespace and extraneous trailing tokens.
func NormalizeMessageID(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if fields := strings.Fields(s); len(fields) > 0 {
		s = fields[0]
	}
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	return "<" + s + ">"
}

func firstAddress(h mail.Header, key string) string {
	addrs := addressStrings(h, key)
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}

// addressStrings parses an address-list header into lowercase bare email
// addresses, falling back to a best-effort comma split only when the
// structured parse fails outright (e.g. a malformed header from a legacy
// mail client) rather than as the primary strategy.
func addressStrings(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			if a.Address != "" {
				out = append(out, strings.ToLower(a.Address))
			}
		}
		return out
	}

	raw := h.Header.Get(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// AddressFilter decides whether a message should be downloaded based on
// whether any of its address headers reference a target address.
type AddressFilter struct {
	Targets           map[string]struct{}
	IncludeSender     bool
	IncludeRecipients bool
}

// NewAddressFilter builds a filter from a list of target addresses,
// lowercasing and deduplicating them.
func NewAddressFilter(targets []string, includeSender, includeRecipients bool) *AddressFilter {
	set := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return &AddressFilter{Targets: set, IncludeSender: includeSender, IncludeRecipients: includeRecipients}
}

// Matches reports whether h references any target address. An empty
// target set matches everything, so the filter is a no-op when unconfigured.
func (f *AddressFilter) Matches(h *Headers) bool {
	if len(f.Targets) == 0 {
		return true
	}
	if f.IncludeSender && f.contains(h.From) {
		return true
	}
	if f.IncludeRecipients {
		for _, group := range [][]string{h.To, h.Cc, h.Bcc, h.DeliveredTo, h.XOriginalTo, h.EnvelopeTo} {
			for _, addr := range group {
				if f.contains(addr) {
					return true
				}
			}
		}
	}
	return false
}

func (f *AddressFilter) contains(addr string) bool {
	if addr == "" {
		return false
	}
	_, ok := f.Targets[strings.ToLower(strings.TrimSpace(addr))]
	return ok
}
