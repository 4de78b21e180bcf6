package logging

import (
	"io"
	"log/slog"
	"os"
	"regexp"
)

// panLike matches digit runs long enough to be a card number.
var panLike = regexp.MustCompile(`\d{13,19}`)

// New creates a JSON slog logger configured at the provided level. If the
// level string is invalid it defaults to info. String attributes that contain
// a card-number-like digit run are masked before they are written.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter is New with a caller-supplied destination.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, ReplaceAttr: redactPAN})
	return slog.New(handler)
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

func redactPAN(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		if s := a.Value.String(); panLike.MatchString(s) {
			a.Value = slog.StringValue(Redact(s))
		}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok && panLike.MatchString(err.Error()) {
			a.Value = slog.StringValue(Redact(err.Error()))
		}
	}
	return a
}

// Redact replaces every card-number-like digit run with its last four digits.
func Redact(s string) string {
	return panLike.ReplaceAllStringFunc(s, func(m string) string {
		return "****" + m[len(m)-4:]
	})
}
