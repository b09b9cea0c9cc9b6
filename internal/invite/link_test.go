package invite

import "testing"

func TestLink(t *testing.T) {
	got := Link("campaign_bot", 12345)
	want := "https://t.me/campaign_bot?start=12345"
	if got != want {
		t.Errorf("Link() = %q, want %q", got, want)
	}

	// A leading @ in the configured username is tolerated.
	if got := Link("@campaign_bot", 12345); got != want {
		t.Errorf("Link() with @ = %q, want %q", got, want)
	}
}

func TestParseStartPayload(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		wantID int64
		wantOK bool
	}{
		{"valid", "12345", 12345, true},
		{"valid with whitespace", "  678 ", 678, true},
		{"empty", "", 0, false},
		{"non-numeric", "abc", 0, false},
		{"mixed", "12ab", 0, false},
		{"zero", "0", 0, false},
		{"negative", "-5", 0, false},
		{"overflow", "99999999999999999999", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ParseStartPayload(tt.raw)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("ParseStartPayload(%q) = (%d, %v), want (%d, %v)",
					tt.raw, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}
