// Package log provides the process-wide zerolog logger and the per-component
// loggers derived from it.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Component loggers. They are rebuilt by Init.
var (
	Node        zerolog.Logger
	Coordinator zerolog.Logger
	Quorum      zerolog.Logger
	Ledger      zerolog.Logger
	Lightning   zerolog.Logger
	Registry    zerolog.Logger
	Storage     zerolog.Logger
)

const consoleTimeFormat = "15:04:05"

func init() {
	Logger = build(console(os.Stdout), zerolog.InfoLevel)
	initComponentLoggers()
}

// Init configures the global logger. Console output is colored unless
// jsonOutput is set. A non-empty file additionally receives JSON lines.
func Init(level string, jsonOutput bool, file string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	var out io.Writer = console(os.Stdout)
	if jsonOutput {
		out = os.Stdout
	}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(out, f)
	}

	Logger = build(out, lvl)
	initComponentLoggers()
	return nil
}

// ParseLevel accepts zerolog level names. The empty string means info.
func ParseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", level, err)
	}
	return lvl, nil
}

func console(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
}

func build(w io.Writer, lvl zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func initComponentLoggers() {
	Node = WithComponent("node")
	Coordinator = WithComponent("coordinator")
	Quorum = WithComponent("quorum")
	Ledger = WithComponent("ledger")
	Lightning = WithComponent("lnd")
	Registry = WithComponent("registry")
	Storage = WithComponent("storage")
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}
