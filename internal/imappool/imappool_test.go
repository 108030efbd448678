package imappool

import "testing"

func TestParseSearchQuery_All(t *testing.T) {
	c := parseSearchQuery("ALL")
	if len(c.Text) != 0 {
		t.Errorf("ALL should produce no text criteria, got %v", c.Text)
	}
}

func TestParseSearchQuery_Passthrough(t *testing.T) {
	c := parseSearchQuery("SUBJECT invoice")
	if len(c.Text) != 1 || c.Text[0] != "SUBJECT invoice" {
		t.Errorf("Text = %v, want passthrough of the raw query", c.Text)
	}
}
