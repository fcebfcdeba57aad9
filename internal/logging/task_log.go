package logging

import (
	"context"
	"log/slog"
)

// TaskLogger mirrors every record of base into sink, a per-task log handler.
// The sink is bound to the task id up front, and a failing sink never fails
// the record for base.
func TaskLogger(base *slog.Logger, taskID int64, sink slog.Handler) *slog.Logger {
	if sink == nil {
		if base == nil {
			return NewNop()
		}
		return base
	}
	sink = sink.WithAttrs([]slog.Attr{TaskID(taskID)})
	if base == nil {
		return slog.New(sink)
	}
	return slog.New(&mirrorHandler{primary: base.Handler(), mirror: sink})
}

type mirrorHandler struct {
	primary slog.Handler
	mirror  slog.Handler
}

func (h *mirrorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.mirror.Enabled(ctx, level)
}

func (h *mirrorHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.mirror.Enabled(ctx, record.Level) {
		_ = h.mirror.Handle(ctx, record.Clone())
	}
	if !h.primary.Enabled(ctx, record.Level) {
		return nil
	}
	return h.primary.Handle(ctx, record)
}

func (h *mirrorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &mirrorHandler{primary: h.primary.WithAttrs(attrs), mirror: h.mirror.WithAttrs(dropTaskID(attrs))}
}

func (h *mirrorHandler) WithGroup(name string) slog.Handler {
	return &mirrorHandler{primary: h.primary.WithGroup(name), mirror: h.mirror.WithGroup(name)}
}

// dropTaskID keeps the sink from repeating the task id it was bound to.
func dropTaskID(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		if attr.Key != FieldTaskID {
			out = append(out, attr)
		}
	}
	return out
}
