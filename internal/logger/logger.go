// Package logger provides the structured logging handle injected into every
// tradeload component. It wraps sirupsen/logrus behind a small interface so
// components and tests do not depend on logrus directly.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
)

// Fields are structured key/value pairs attached to log lines.
type Fields map[string]any

// Logger is the logging interface used across the project.
type Logger interface {
	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	WithField(key string, value any) Logger
	WithFields(fields Fields) Logger
	// DebugEnabled reports whether debug lines are emitted; used to decide
	// whether to include full SQL text in failure logs.
	DebugEnabled() bool
}

// Options configures New.
type Options struct {
	Service string    // attached to every line as service=<name>
	Level   string    // trace, debug, info, warn, error
	Format  string    // "text" (default) or "json"
	Out     io.Writer // defaults to os.Stderr
}

// Impl is the logrus-backed Logger.
type Impl struct {
	entry *log.Entry
}

var _ Logger = (*Impl)(nil)

// New builds a Logger from opts. Each call owns its own logrus.Logger so
// concurrent tests do not fight over the package-level logrus state.
func New(opts Options) (*Impl, error) {
	l := log.New()

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	l.SetOutput(out)

	level := opts.Level
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	l.SetLevel(lvl)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		l.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
			DisableColors: !isTerminal(out),
		})
	case "json":
		l.SetFormatter(&log.JSONFormatter{})
	default:
		return nil, fmt.Errorf("logger: unknown format %q", opts.Format)
	}

	entry := log.NewEntry(l)
	if opts.Service != "" {
		entry = entry.WithField("service", opts.Service)
	}
	return &Impl{entry: entry}, nil
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return &Impl{entry: log.NewEntry(l)}
}

// NewTest returns a debug-level text Logger writing to w without timestamps,
// so tests can assert on its output.
func NewTest(w io.Writer) Logger {
	l := log.New()
	l.SetOutput(w)
	l.SetLevel(log.DebugLevel)
	l.SetFormatter(&log.TextFormatter{DisableTimestamp: true, DisableColors: true})
	return &Impl{entry: log.NewEntry(l)}
}

func (l *Impl) Debug(args ...any) { l.entry.Debug(args...) }
func (l *Impl) Info(args ...any)  { l.entry.Info(args...) }
func (l *Impl) Warn(args ...any)  { l.entry.Warn(args...) }
func (l *Impl) Error(args ...any) { l.entry.Error(args...) }

func (l *Impl) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Impl) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Impl) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Impl) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

func (l *Impl) WithField(key string, value any) Logger {
	return &Impl{entry: l.entry.WithField(key, value)}
}

func (l *Impl) WithFields(fields Fields) Logger {
	return &Impl{entry: l.entry.WithFields(log.Fields(fields))}
}

func (l *Impl) DebugEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(log.DebugLevel)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
