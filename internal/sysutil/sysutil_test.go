package sysutil

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSetLogLevel(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })

	cases := []struct {
		name string
		in   string
		want zerolog.Level
	}{
		{"debug", "debug", zerolog.DebugLevel},
		{"mixed case and padding", " WaRn ", zerolog.WarnLevel},
		{"warning alias", "warning", zerolog.WarnLevel},
		{"error", "error", zerolog.ErrorLevel},
		{"fatal", "fatal", zerolog.FatalLevel},
		{"panic", "panic", zerolog.PanicLevel},
		{"empty defaults to info", "", zerolog.InfoLevel},
		{"unknown defaults to info", "verbose", zerolog.InfoLevel},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			SetLogLevel(tc.in)
			if got := zerolog.GlobalLevel(); got != tc.want {
				t.Fatalf("SetLogLevel(%q) left level %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty(); got != "" {
		t.Fatalf("no args: got %q", got)
	}
	if got := FirstNonEmpty("", "  ", "\t"); got != "" {
		t.Fatalf("all blank: got %q", got)
	}
	// whitespace counts as blank for selection, but the winner is returned verbatim
	if got := FirstNonEmpty("  ", " svc ", "fallback"); got != " svc " {
		t.Fatalf("got %q, want %q", got, " svc ")
	}
	if got := FirstNonEmpty("first", "second"); got != "first" {
		t.Fatalf("got %q, want %q", got, "first")
	}
}
