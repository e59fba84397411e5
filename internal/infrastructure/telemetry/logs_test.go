package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerProvider_Disabled(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{}, zapNop())
	require.NoError(t, err)
	assert.False(t, lp.IsEnabled())
	assert.NoError(t, lp.Shutdown(context.Background()))

	core := NewZapOTELCore("tradeledger", lp, zapcore.InfoLevel)
	assert.False(t, core.Enabled(zapcore.ErrorLevel))

	var nilProvider *LoggerProvider
	assert.False(t, nilProvider.IsEnabled())
}

func TestLevelFilterCore(t *testing.T) {
	inner, recorded := observer.New(zapcore.DebugLevel)
	core := &levelFilterCore{Core: inner, minLevel: zapcore.WarnLevel}

	assert.False(t, core.Enabled(zapcore.InfoLevel))
	assert.True(t, core.Enabled(zapcore.ErrorLevel))

	child := core.With([]zapcore.Field{{Key: "k", Type: zapcore.StringType, String: "v"}})
	for _, lvl := range []zapcore.Level{zapcore.InfoLevel, zapcore.WarnLevel} {
		entry := zapcore.Entry{Level: lvl, Message: lvl.String()}
		if ce := child.Check(entry, nil); ce != nil {
			ce.Write()
		}
	}

	require.Equal(t, 1, recorded.Len())
	assert.Equal(t, "warn", recorded.All()[0].Message)
	assert.Equal(t, "v", recorded.All()[0].ContextMap()["k"])
}
