package dispatch

import "testing"

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"", ModeChat, false},
		{"chat", ModeChat, false},
		{"search", ModeSearch, false},
		{"RESEARCH", ModeResearch, false},
		{"study", ModeStudy, false},
		{"turbo", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseMode(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseMode(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMode(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFindRoute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		text        string
		wantMode    Mode
		wantPayload string
		wantOK      bool
	}{
		{
			name:   "no tag",
			text:   "just a plain answer",
			wantOK: false,
		},
		{
			name:        "complete tag",
			text:        "let me look that up <search>go 1.25 release notes</search>",
			wantMode:    ModeSearch,
			wantPayload: "go 1.25 release notes",
			wantOK:      true,
		},
		{
			name:        "unclosed tag routes with trailing text",
			text:        "hmm <research>quantum error correction progress",
			wantMode:    ModeResearch,
			wantPayload: "quantum error correction progress",
			wantOK:      true,
		},
		{
			name:        "empty payload",
			text:        "<image></image>",
			wantMode:    ModeImage,
			wantPayload: "",
			wantOK:      true,
		},
		{
			name:        "earliest tag wins",
			text:        "<canvas>a</canvas> then <search>b</search>",
			wantMode:    ModeCanvas,
			wantPayload: "a",
			wantOK:      true,
		},
		{
			name:   "unknown tag ignored",
			text:   "<sparkle>nope</sparkle>",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			route, ok := FindRoute(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("FindRoute() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if route.Mode != tt.wantMode {
				t.Errorf("Mode = %q, want %q", route.Mode, tt.wantMode)
			}
			if route.Payload != tt.wantPayload {
				t.Errorf("Payload = %q, want %q", route.Payload, tt.wantPayload)
			}
		})
	}
}

func TestStripTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
	}{
		{"no tags", "hello", "hello"},
		{"complete tag removed with payload", "before <search>q</search> after", "before  after"},
		{"unclosed tag removed to end", "answer <think>half a thought", "answer"},
		{"multiple tags", "<image>a</image>x<study>b</study>", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := StripTags(tt.text); got != tt.want {
				t.Errorf("StripTags(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
