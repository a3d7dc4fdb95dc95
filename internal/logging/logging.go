// Package logging adapts the teacher's UI-shaped logging contract
// (cli/ui/ui.go's LogDebug/ShowError/ShowChat trio) onto zerolog,
// rather than the line-oriented console writer the teacher wrote by
// hand. Every engine package that wants to log takes a Logger, not a
// concrete type, so tests can supply a no-op.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the logging surface every engine package depends on. The
// method names carry over from the teacher's UI.Client contract
// verbatim because callers (sender, receiver, session) were written
// against that vocabulary.
type Logger interface {
	LogDebug(msg string)
	ShowError(msg string)
	ShowChat(peer, msg string)
}

// zlogger is the default Logger, backed by zerolog.
type zlogger struct {
	log zerolog.Logger
}

// New builds a Logger writing to w in zerolog's console format when
// pretty is true, or as newline-delimited JSON otherwise (the shape
// you want piping into a log aggregator).
func New(w io.Writer, pretty bool) Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return &zlogger{log: zerolog.New(w).With().Timestamp().Logger()}
}

// Default returns a pretty logger writing to stderr, the teacher's
// console-first default.
func Default() Logger {
	return New(os.Stderr, true)
}

func (z *zlogger) LogDebug(msg string) {
	z.log.Debug().Msg(msg)
}

func (z *zlogger) ShowError(msg string) {
	z.log.Error().Msg(msg)
}

func (z *zlogger) ShowChat(peer, msg string) {
	z.log.Info().Str("peer", peer).Str("kind", "chat").Msg(msg)
}

// Nop discards everything; useful for tests that don't care about log
// output but need a Logger to satisfy a constructor.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) LogDebug(string)      {}
func (nopLogger) ShowError(string)     {}
func (nopLogger) ShowChat(string, string) {}
