// Package logger sets up the process slog logger and threads the request
// and retrieval ids through context so every line of one retrieval can be
// grepped together.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type ctxKey struct{}

// ids is stored by value; each With* call copies it.
type ids struct {
	request   string
	retrieval string
}

func fromCtx(ctx context.Context) ids {
	v, _ := ctx.Value(ctxKey{}).(ids)
	return v
}

// Setup installs the default logger on stdout. format is "json" or text.
func Setup(level, format string) {
	SetupWriter(os.Stdout, level, format)
}

func SetupWriter(w io.Writer, level, format string) {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl <= slog.LevelDebug}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	v := fromCtx(ctx)
	v.request = requestID
	return context.WithValue(ctx, ctxKey{}, v)
}

func RequestID(ctx context.Context) string { return fromCtx(ctx).request }

// WithRetrievalID tags the lines logged for one retrieval.
func WithRetrievalID(ctx context.Context, retrievalID string) context.Context {
	v := fromCtx(ctx)
	v.retrieval = retrievalID
	return context.WithValue(ctx, ctxKey{}, v)
}

func RetrievalID(ctx context.Context) string { return fromCtx(ctx).retrieval }

// FromContext returns the default logger with whichever ids ctx carries.
func FromContext(ctx context.Context) *slog.Logger {
	v := fromCtx(ctx)
	l := slog.Default()
	if v.request != "" {
		l = l.With("request_id", v.request)
	}
	if v.retrieval != "" {
		l = l.With("retrieval_id", v.retrieval)
	}
	return l
}

// parseLevel accepts the slog names in any case, including offsets such as
// "debug+2". Anything else means info.
func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
