package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContextCarriesIDs(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupWriter(&buf, "debug", "json")

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithRetrievalID(ctx, "ret-9")
	FromContext(ctx).Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "ret-9", line["retrieval_id"])
	assert.Equal(t, "ret-9", RetrievalID(ctx))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestParseLevelCaseAndOffset(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelDebug+2, parseLevel("debug+2"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestIDsAreIndependent(t *testing.T) {
	base := WithRequestID(context.Background(), "req-1")
	a := WithRetrievalID(base, "ret-a")
	b := WithRetrievalID(base, "ret-b")

	assert.Equal(t, "ret-a", RetrievalID(a))
	assert.Equal(t, "ret-b", RetrievalID(b))
	assert.Empty(t, RetrievalID(base))
	assert.Equal(t, "req-1", RequestID(b))
}
