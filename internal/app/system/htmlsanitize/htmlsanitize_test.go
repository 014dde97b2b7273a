package htmlsanitize_test

import (
	"testing"

	"github.com/dalemusser/respondentpro/internal/app/system/htmlsanitize"
)

func TestPlainText_Empty(t *testing.T) {
	if got := htmlsanitize.PlainText(""); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestPlainText_Unchanged(t *testing.T) {
	in := "Too long, pays under $20"
	if got := htmlsanitize.PlainText(in); got != in {
		t.Errorf("expected %q unchanged, got %q", in, got)
	}
}

func TestPlainText_StripsMarkup(t *testing.T) {
	in := "<p>Not <strong>relevant</strong></p><script>alert('x')</script>"
	if got := htmlsanitize.PlainText(in); got != "Not relevant" {
		t.Errorf("got %q, want %q", got, "Not relevant")
	}
}

func TestPlainText_DecodesEntities(t *testing.T) {
	in := "Tom & Jerry's <b>study</b>"
	if got := htmlsanitize.PlainText(in); got != "Tom & Jerry's study" {
		t.Errorf("got %q", got)
	}
}

func TestPlainText_TrimsWhitespace(t *testing.T) {
	if got := htmlsanitize.PlainText("   spaced \n"); got != "spaced" {
		t.Errorf("got %q, want %q", got, "spaced")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "hé"},
		{"hello", 0, "hello"},
	}
	for _, tc := range tests {
		if got := htmlsanitize.Truncate(tc.in, tc.max); got != tc.want {
			t.Errorf("Truncate(%q, %d): got %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
