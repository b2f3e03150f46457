package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultPrefix tags every trace line with the runtime's target name.
const DefaultPrefix = "Target AMDHSA RTL"

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
	colorCyan   = "\033[36m"
)

type TraceOptions struct {
	Level  slog.Leveler
	Prefix string
	Color  bool
	// Time adds a timestamp to every line.
	Time bool
}

// TraceHandler is a slog.Handler writing one line per record:
//
//	[time] Prefix --> LEVEL message key=value
type TraceHandler struct {
	opts  TraceOptions
	w     io.Writer
	mu    *sync.Mutex
	group string
	attrs []slog.Attr
}

func NewTraceHandler(w io.Writer, opts TraceOptions) *TraceHandler {
	return &TraceHandler{opts: opts, w: w, mu: &sync.Mutex{}}
}

func (h *TraceHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *TraceHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)

	if h.opts.Time {
		buf = h.paint(buf, colorGray)
		buf = append(buf, '[')
		buf = r.Time.AppendFormat(buf, time.TimeOnly)
		buf = append(buf, "] "...)
		buf = h.paint(buf, colorReset)
	}
	if h.opts.Prefix != "" {
		buf = append(buf, h.opts.Prefix...)
		buf = append(buf, " --> "...)
	}
	if r.Level != slog.LevelDebug {
		buf = h.paint(buf, levelColor(r.Level))
		buf = append(buf, r.Level.String()...)
		buf = h.paint(buf, colorReset)
		buf = append(buf, ' ')
	}
	buf = append(buf, r.Message...)

	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		buf = h.paint(buf, colorCyan)
		// Handler attrs carry their group already.
		for _, a := range h.attrs {
			buf = append(buf, ' ')
			buf = appendAttr(buf, a, "")
		}
		r.Attrs(func(a slog.Attr) bool {
			buf = append(buf, ' ')
			buf = appendAttr(buf, a, h.group)
			return true
		})
		buf = h.paint(buf, colorReset)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *TraceHandler) paint(buf []byte, color string) []byte {
	if !h.opts.Color {
		return buf
	}
	return append(buf, color...)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	if h.group == "" {
		next.attrs = append(next.attrs, attrs...)
	} else {
		for _, a := range attrs {
			a.Key = h.group + "." + a.Key
			next.attrs = append(next.attrs, a)
		}
	}
	return &next
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.group != "" {
		next.group = h.group + "." + name
	} else {
		next.group = name
	}
	return &next
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorBlue
	default:
		return colorGray
	}
}

func appendAttr(buf []byte, attr slog.Attr, group string) []byte {
	attr.Value = attr.Value.Resolve()
	key := attr.Key
	if group != "" {
		key = group + "." + key
	}
	buf = append(buf, key...)
	buf = append(buf, '=')

	switch attr.Value.Kind() {
	case slog.KindString:
		s := attr.Value.String()
		if needsQuoting(s) {
			buf = fmt.Appendf(buf, "%q", s)
		} else {
			buf = append(buf, s...)
		}
	case slog.KindUint64:
		// Addresses and sizes read better in hex once they are large.
		v := attr.Value.Uint64()
		if v >= 1<<16 {
			buf = fmt.Appendf(buf, "0x%x", v)
		} else {
			buf = fmt.Appendf(buf, "%d", v)
		}
	case slog.KindGroup:
		buf = append(buf, '{')
		for i, a := range attr.Value.Group() {
			if i > 0 {
				buf = append(buf, ' ')
			}
			buf = appendAttr(buf, a, "")
		}
		buf = append(buf, '}')
	default:
		buf = fmt.Append(buf, attr.Value.Any())
	}
	return buf
}

func needsQuoting(s string) bool {
	for _, c := range s {
		if c == ' ' || c == '\t' || c == '\n' || c == '"' {
			return true
		}
	}
	return false
}
