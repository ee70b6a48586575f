package logger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestNew_FileOutputIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")

	log, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	log.Info("sync finished", zap.String("user_id", "u-1"), zap.Int("synced_days", 3))
	require.NoError(t, log.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &entry))
	assert.Equal(t, "sync finished", entry["msg"])
	assert.Equal(t, "u-1", entry["user_id"])
	assert.Equal(t, float64(3), entry["synced_days"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewForEnvironment(t *testing.T) {
	log, err := NewForEnvironment("prod", "warn")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	local, err := NewForEnvironment("local", "")
	require.NoError(t, err)
	assert.True(t, local.Core().Enabled(zapcore.DebugLevel))
}

func TestContextHelpers(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	base := zap.NewNop()
	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "req-1"})
	ctx, enriched := WithLambdaRequest(ctx, base)
	assert.Same(t, enriched, FromContext(ctx))

	ctx, withUser := WithUserID(ctx, enriched, "u-1")
	assert.Same(t, withUser, FromContext(ctx))
}
