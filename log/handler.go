package log

import (
	"context"
	"io"
	"log/slog"
)

type discardHandler struct{}

// DiscardHandler returns a no-op handler
func DiscardHandler() slog.Handler {
	return &discardHandler{}
}

func (h *discardHandler) Handle(_ context.Context, r slog.Record) error {
	return nil
}

func (h *discardHandler) Enabled(_ context.Context, level slog.Level) bool {
	return false
}

func (h *discardHandler) WithGroup(name string) slog.Handler {
	return h
}

func (h *discardHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

// NewTerminalHandlerWithLevel returns a text handler writing records at or above lvl to w.
// Levels are rendered with the aligned names used throughout the node.
func NewTerminalHandlerWithLevel(w io.Writer, lvl slog.Level, useColor bool) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key != slog.LevelKey || len(groups) != 0 {
				return a
			}
			lv, ok := a.Value.Any().(slog.Level)
			if !ok {
				return a
			}
			name := LevelAlignedString(lv)
			if useColor {
				name = colorize(lv, name)
			}
			return slog.String(slog.LevelKey, name)
		},
	})
}

func colorize(l slog.Level, s string) string {
	var code string
	switch {
	case l >= LevelCrit:
		code = "35"
	case l >= slog.LevelError:
		code = "31"
	case l >= slog.LevelWarn:
		code = "33"
	case l >= slog.LevelInfo:
		code = "32"
	default:
		code = "36"
	}
	return "\033[" + code + "m" + s + "\033[0m"
}
