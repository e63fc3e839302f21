package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mikeboe/deep-research/pkg/store"
)

// DBLogHandler is a slog.Handler that writes every record carrying a run_id
// attribute into that run's log table, then passes it on to Next.
type DBLogHandler struct {
	Store store.Store
	Next  slog.Handler
	Level slog.Leveler

	attrs []slog.Attr
	group string
}

func NewDBLogHandler(st store.Store, next slog.Handler, level slog.Leveler) *DBLogHandler {
	return &DBLogHandler{
		Store: st,
		Next:  next,
		Level: level,
	}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.Level != nil && level < h.Level.Level() {
		return h.Next != nil && h.Next.Enabled(ctx, level)
	}
	return true
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.Next != nil && h.Next.Enabled(ctx, r.Level) {
		if err := h.Next.Handle(ctx, r); err != nil {
			return err
		}
	}
	if h.Level != nil && r.Level < h.Level.Level() {
		return nil
	}

	attrs := make(map[string]interface{})
	var runID string
	collect := func(a slog.Attr) bool {
		if a.Key == "run_id" {
			runID = a.Value.String()
			return true
		}
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		attrs[key] = logValue(a.Value)
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	if runID == "" {
		return nil
	}

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte("{}")
	}

	// Use background context so logs persist even if the request context is cancelled.
	return h.Store.AppendLog(context.Background(), store.LogEntry{
		RunID:     runID,
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Metadata:  metaJSON,
	})
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	if h.Next != nil {
		next.Next = h.Next.WithAttrs(attrs)
	}
	return &next
}

func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	next := *h
	if next.group == "" {
		next.group = name
	} else {
		next.group += "." + name
	}
	if h.Next != nil {
		next.Next = h.Next.WithGroup(name)
	}
	return &next
}

// logValue keeps errors readable once marshaled to JSON.
func logValue(v slog.Value) interface{} {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		if s, ok := v.Any().(fmt.Stringer); ok {
			return s.String()
		}
		return v.Any()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time()
	default:
		return v.Any()
	}
}
