// Package testenv provides helpers shared by the tests of this module:
// a deterministic log handler and a fake realtime endpoint bootstrap.
package testenv

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Entry is a log record kept by a TestLogHandler.
type Entry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

type logState struct {
	mu      sync.Mutex
	index   int
	out     io.Writer
	entries []Entry
}

// TestLogHandler is a slog.Handler that prints message index (starting from 0)
// level, and message content, without the timestamp.
// This allows test log output to be deterministic.
//
// Every handled record is also kept, see Entries.
type TestLogHandler struct {
	state               *logState
	attrs               []slog.Attr
	groups              []string // current group path
	ignoreErrorPrefixes []string // prefixes of error messages to ignore
	ignoreDebug         bool     // whether to ignore DEBUG level messages
}

// TestLogHandlerOption is a function that configures a TestLogHandler
type TestLogHandlerOption func(*TestLogHandler)

// WithIgnoreErrorPrefixes sets prefixes for error messages that should be ignored
func WithIgnoreErrorPrefixes(prefixes ...string) TestLogHandlerOption {
	return func(h *TestLogHandler) {
		h.ignoreErrorPrefixes = append(h.ignoreErrorPrefixes, prefixes...)
	}
}

// WithIgnoreDebug configures the handler to ignore DEBUG level messages
func WithIgnoreDebug() TestLogHandlerOption {
	return func(h *TestLogHandler) {
		h.ignoreDebug = true
	}
}

// WithOutput sets where records are printed. io.Discard keeps them silent.
func WithOutput(w io.Writer) TestLogHandlerOption {
	return func(h *TestLogHandler) {
		h.state.out = w
	}
}

func NewTestLogHandler(opts ...TestLogHandlerOption) *TestLogHandler {
	h := &TestLogHandler{state: &logState{out: os.Stdout}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Entries returns the records handled so far, across derived handlers.
func (h *TestLogHandler) Entries() []Entry {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	return append([]Entry(nil), h.state.entries...)
}

// Messages returns the messages of the records at level or above.
func (h *TestLogHandler) Messages(level slog.Level) []string {
	var out []string
	for _, e := range h.Entries() {
		if e.Level >= level {
			out = append(out, e.Message)
		}
	}
	return out
}

//nolint:gocritic
func (h *TestLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level == slog.LevelDebug && h.ignoreDebug {
		return nil
	}

	if r.Level == slog.LevelError {
		for _, prefix := range h.ignoreErrorPrefixes {
			if strings.HasPrefix(r.Message, prefix) {
				return nil
			}
		}
	}

	attrs := make(map[string]string)
	text := h.attrsToString(&r, attrs)

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	if text != "" {
		fmt.Fprintf(h.state.out, "[%d] %s: %s %s\n", h.state.index, r.Level, r.Message, text)
	} else {
		fmt.Fprintf(h.state.out, "[%d] %s: %s\n", h.state.index, r.Level, r.Message)
	}
	h.state.index++
	h.state.entries = append(h.state.entries, Entry{Level: r.Level, Message: r.Message, Attrs: attrs})

	return nil
}

func (h *TestLogHandler) attrsToString(r *slog.Record, kept map[string]string) string {
	var parts []string

	for _, attr := range h.attrs {
		parts = append(parts, formatAttr(attr, "", kept)...)
	}

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, formatAttr(a, prefix, kept)...)
		return true
	})

	return strings.Join(parts, ", ")
}

func formatAttr(a slog.Attr, prefix string, kept map[string]string) []string {
	if a.Value.Kind() == slog.KindGroup {
		var parts []string
		for _, ga := range a.Value.Group() {
			parts = append(parts, formatAttr(ga, prefix+a.Key+".", kept)...)
		}
		return parts
	}

	key := prefix + a.Key
	value := a.Value.String()
	kept[key] = value
	return []string{fmt.Sprintf("%s=%s", key, value)}
}

func (h *TestLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return true
}

func (h *TestLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}

	newAttrs := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		newAttrs = append(newAttrs, slog.Attr{Key: prefix + attr.Key, Value: attr.Value})
	}

	clone := *h
	clone.attrs = append(h.attrs[:len(h.attrs):len(h.attrs)], newAttrs...)
	return &clone
}

func (h *TestLogHandler) WithGroup(name string) slog.Handler {
	// If the name is empty, return the receiver as per slog documentation
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(h.groups[:len(h.groups):len(h.groups)], name)
	return &clone
}
