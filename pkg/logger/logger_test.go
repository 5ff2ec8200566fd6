package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{name: "defaults", level: "", format: ""},
		{name: "debug console", level: "debug", format: "console"},
		{name: "warning alias", level: "WARNING", format: "json"},
		{name: "bad level", level: "loud", format: "json", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core)).Named("pipeline")

	ctx := WithStage(WithRequestID(context.Background(), "req-1"), "parse")
	l.Infof(ctx, "parsed %d rows", 10)
	l.Debugf(context.Background(), "no fields")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "parsed 10 rows", entries[0].Message)
	assert.Equal(t, "pipeline", entries[0].LoggerName)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "parse", fields["stage"])
	assert.Empty(t, entries[1].ContextMap())
	assert.Equal(t, "req-1", RequestID(ctx))
}
