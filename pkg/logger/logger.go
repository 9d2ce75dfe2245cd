// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger configures the process-wide slog logger. Three output
// formats: "simple" (level + message, colored on a terminal) for
// interactive use, "verbose" (standard slog text with timestamps) for
// log files, and "json" for collectors. Below debug level, records
// originating outside this module are suppressed so chatty dependencies
// (database drivers, plugin hosts) don't drown operational logs.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const modulePrefix = "github.com/olav-network/olav"

// ParseLevel maps a config string onto a slog.Level; unknown strings
// fall back to info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Init builds the handler chain for the chosen format and installs it
// as slog's default, so every package — and every dependency that logs
// through slog — shares it.
func Init(level slog.Level, output *os.File, format string) {
	var handler slog.Handler
	switch {
	case format == "json":
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	case format == "verbose":
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{Level: level})
	default: // simple
		handler = &simpleHandler{
			out:   output,
			level: level,
			color: isTerminal(output),
		}
	}

	slog.SetDefault(slog.New(&moduleFilter{inner: handler, level: level}))
}

// OpenLogFile opens (appending, creating parents) the log file at path,
// returning the file and a close func for main's defer.
func OpenLogFile(path string) (*os.File, func(), error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// moduleFilter suppresses third-party records below debug level. The
// origin check costs a PC lookup per record, paid only for records that
// already cleared the level gate.
type moduleFilter struct {
	inner slog.Handler
	level slog.Level
}

func (h *moduleFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *moduleFilter) Handle(ctx context.Context, record slog.Record) error {
	if h.level > slog.LevelDebug && !fromThisModule(record.PC) {
		return nil
	}
	return h.inner.Handle(ctx, record)
}

func (h *moduleFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &moduleFilter{inner: h.inner.WithAttrs(attrs), level: h.level}
}

func (h *moduleFilter) WithGroup(name string) slog.Handler {
	return &moduleFilter{inner: h.inner.WithGroup(name), level: h.level}
}

func fromThisModule(pc uintptr) bool {
	if pc == 0 {
		// Records built without a caller (slog.Default().Handler()
		// invoked directly) stay visible.
		return true
	}
	fn := runtime.FuncForPC(pc)
	return fn != nil && strings.Contains(fn.Name(), modulePrefix)
}

// simpleHandler renders "LEVEL message key=value ...", one line per
// record, colored when the output is a terminal.
type simpleHandler struct {
	out   io.Writer
	level slog.Level
	attrs []slog.Attr
	color bool
}

func (h *simpleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *simpleHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder

	label := record.Level.String()
	if h.color {
		b.WriteString(levelColor(record.Level))
		b.WriteString(label)
		b.WriteString("\033[0m")
	} else {
		b.WriteString(label)
	}
	b.WriteByte(' ')
	b.WriteString(record.Message)

	writeAttr := func(a slog.Attr) {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})
	b.WriteByte('\n')

	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *simpleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &simpleHandler{out: h.out, level: h.level, attrs: merged, color: h.color}
}

func (h *simpleHandler) WithGroup(string) slog.Handler {
	// Groups are rare in this codebase's logging; flattening them keeps
	// the simple format simple.
	return h
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m" // red
	case level >= slog.LevelWarn:
		return "\033[33m" // yellow
	case level >= slog.LevelInfo:
		return "\033[36m" // cyan
	default:
		return "\033[90m" // gray
	}
}
