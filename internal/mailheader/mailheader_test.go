package mailheader

import "testing"

func rawMessage(headers, body string) []byte {
	return []byte(headers + "\r\n" + body)
}

func TestParse_BasicHeaders(t *testing.T) {
	raw := rawMessage(
		"Message-Id: <ABC@D.com>\r\n"+
			"Date: Mon, 01 Jan 2024 00:00:00 +0000\r\n"+
			"From: A@D.com\r\n"+
			"To: b@d.com, c@d.com\r\n"+
			"Subject: hi   there\r\n",
		"body\r\n")

	h, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if h.MessageIDNorm != "<abc@d.com>" {
		t.Errorf("MessageIDNorm = %q, want <abc@d.com>", h.MessageIDNorm)
	}
	if h.From != "a@d.com" {
		t.Errorf("From = %q, want a@d.com", h.From)
	}
	if len(h.To) != 2 || h.To[0] != "b@d.com" {
		t.Errorf("To = %v, want [b@d.com c@d.com]", h.To)
	}
	if h.Subject != "hi there" {
		t.Errorf("Subject = %q, want whitespace-collapsed %q", h.Subject, "hi there")
	}
	if h.Date.IsZero() {
		t.Error("Date should be parsed, got zero value")
	}
}

func TestParse_MissingDateLeavesZeroValue(t *testing.T) {
	raw := rawMessage("From: a@d.com\r\nSubject: no date\r\n", "body\r\n")
	h, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if !h.Date.IsZero() {
		t.Errorf("Date = %v, want zero value when header is absent", h.Date)
	}
}

func TestNormalizeMessageID(t *testing.T) {
	cases := map[string]string{
		"<ABC@D.com>":  "<abc@d.com>",
		"  <x@y.com> ": "<x@y.com>",
		"":              "",
		"bare@id.com":   "<bare@id.com>",
	}
	for in, want := range cases {
		if got := NormalizeMessageID(in); got != want {
			t.Errorf("NormalizeMessageID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAddressFilter_EmptyTargetsMatchesEverything(t *testing.T) {
	f := NewAddressFilter(nil, true, true)
	if !f.Matches(&Headers{From: "anyone@example.com"}) {
		t.Error("empty target filter should match everything")
	}
}

func TestAddressFilter_MatchesSenderAndRecipients(t *testing.T) {
	f := NewAddressFilter([]string{"x@d.com"}, true, true)

	if !f.Matches(&Headers{From: "x@d.com"}) {
		t.Error("should match on From")
	}
	if !f.Matches(&Headers{To: []string{"x@d.com"}}) {
		t.Error("should match on To")
	}
	if !f.Matches(&Headers{DeliveredTo: []string{"x@d.com"}}) {
		t.Error("should match on Delivered-To")
	}
	if f.Matches(&Headers{From: "other@d.com", To: []string{"other2@d.com"}}) {
		t.Error("should not match when no header references a target address")
	}
}

func TestAddressFilter_SenderOnlyIgnoresRecipients(t *testing.T) {
	f := NewAddressFilter([]string{"x@d.com"}, true, false)
	if f.Matches(&Headers{To: []string{"x@d.com"}}) {
		t.Error("IncludeRecipients=false should ignore To even if it matches")
	}
}
