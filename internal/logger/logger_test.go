package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestToZapLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zapcore.Level
	}{
		{DebugLevel, zapcore.DebugLevel},
		{InfoLevel, zapcore.InfoLevel},
		{WarnLevel, zapcore.WarnLevel},
		{ErrorLevel, zapcore.ErrorLevel},
		{"verbose", zapcore.DebugLevel},
		{"", zapcore.DebugLevel},
	}
	for _, tc := range cases {
		if got := toZapLevel(tc.in); got != tc.want {
			t.Fatalf("toZapLevel(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestWithKeepsWrapper(t *testing.T) {
	l := Nop().With("instance", "home")
	if l == nil || l.SugaredLogger == nil {
		t.Fatal("expected a usable child logger")
	}
	l.Infow("ignored", "k", 1)
}
