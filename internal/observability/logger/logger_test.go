package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFrom_FallsBackToSingleton(t *testing.T) {
	assert.Same(t, L(), From(context.Background()))
	//nolint:staticcheck // nil context is part of the contract
	assert.Same(t, L(), From(nil))
}

func TestFrom_ReturnsScopedLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	scoped := zap.New(core).With(RequestID("abc"))

	ctx := ToContext(context.Background(), scoped)
	From(ctx).Info("hello", SteamID("76561197960287930"))

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "abc", fields["request_id"])
		assert.Equal(t, "76561197960287930", fields["steam_id"])
	}
}

func TestSessionID_Truncates(t *testing.T) {
	f := SessionID("0123456789abcdef")
	assert.Equal(t, "01234567", f.String)
	assert.Equal(t, "abc", SessionID("abc").String)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel(" error "))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
}
