package logctx

import (
	"io"
	"log/slog"
	"strings"

	"github.com/samber/lo"
	slogmulti "github.com/samber/slog-multi"
)

const FormatText = "text"

// NewHandler builds the process log handler: JSON (or text when format is
// "text") written to w, fanned out to every non-nil extra handler, and
// wrapped in a TraceHandler.
func NewHandler(w io.Writer, format string, level slog.Leveler, extra ...slog.Handler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var base slog.Handler
	if strings.EqualFold(format, FormatText) {
		base = slog.NewTextHandler(w, opts)
	} else {
		base = slog.NewJSONHandler(w, opts)
	}

	extra = lo.Filter(extra, func(h slog.Handler, _ int) bool {
		return h != nil
	})
	if len(extra) == 0 {
		return NewTraceHandler(base)
	}

	return NewTraceHandler(slogmulti.Fanout(append([]slog.Handler{base}, extra...)...))
}
