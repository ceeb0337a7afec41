package logcontext

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendCtx_DoesNotMutateParent(t *testing.T) {
	parent := AppendCtx(context.Background(), slog.String("runId", "r1"))
	child := AppendCtx(parent, slog.String("jobId", "j1"))

	assert.Len(t, Attrs(parent), 1)
	assert.Len(t, Attrs(child), 2)
}

func TestContextHandler_AddsAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(ContextHandler{Handler: slog.NewJSONHandler(&buf, nil)})

	ctx := AppendCtx(context.Background(), slog.String("reference", "ACTIVATION_ab12cd34_1"))
	logger.InfoContext(ctx, "settled")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ACTIVATION_ab12cd34_1", record["reference"])
	assert.Equal(t, "settled", record["msg"])
}
