package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/qntx-task/errors"
	"github.com/teranos/qntx-task/sym"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// withObserved swaps the global logger for an observer for the test duration.
func withObserved(t *testing.T, level zapcore.Level) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(level)
	prev := Logger
	Logger = zap.New(core).Sugar()
	t.Cleanup(func() { Logger = prev })
	return logs
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
	}{
		{name: "JSON output mode", jsonOutput: true},
		{name: "Console output mode", jsonOutput: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := Logger
			defer func() { Logger = prev; JSONOutput = false }()

			require.NoError(t, Initialize(tt.jsonOutput))
			assert.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)
		})
	}
}

func TestInitializeWithLevelRejectsUnknownLevel(t *testing.T) {
	prev := Logger
	defer func() { Logger = prev }()

	err := InitializeWithLevel(false, "chatty")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidConfigurationError(err))
	assert.Same(t, prev, Logger, "logger untouched on error")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"INFO":    zapcore.InfoLevel,
		"debug":   zapcore.DebugLevel,
		" warn ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"Error":   zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestLoggingFunctions(t *testing.T) {
	logs := withObserved(t, zapcore.DebugLevel)

	Info("plain")
	Infof("formatted %d", 1)
	Infow("structured", FieldTaskName, "cleanup")
	Warnw("warned")
	Errorw("failed", FieldError, "boom")
	Error("bare")
	Debugw("debugging")

	assert.Equal(t, 7, logs.Len())
	assert.Equal(t, "formatted 1", logs.All()[1].Message)
	assert.Equal(t, "cleanup", logs.All()[2].ContextMap()[FieldTaskName])
}

func TestNilLoggerIsSafe(t *testing.T) {
	prev := Logger
	Logger = nil
	defer func() { Logger = prev }()

	assert.NotPanics(t, func() {
		Info("x")
		Infow("x")
		Warnw("x")
		Errorw("x")
		Debugw("x")
		Cleanup()
	})
}

func TestSymbolHelpers(t *testing.T) {
	logs := withObserved(t, zapcore.InfoLevel)

	AddPulseSymbol(Logger).Infow("tick", FieldJob, "cleanup")
	AddLockSymbol(Logger).Infow("acquired")
	AddPulseOpenSymbol(Logger).Infow("started")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, sym.Pulse, entries[0].ContextMap()[FieldSymbol])
	assert.Equal(t, "cleanup", entries[0].ContextMap()[FieldJob])
	assert.Equal(t, sym.Lock, entries[1].ContextMap()[FieldSymbol])
	assert.Equal(t, sym.PulseOpen, entries[2].ContextMap()[FieldSymbol])
}

func TestFromContext(t *testing.T) {
	logs := withObserved(t, zapcore.InfoLevel)

	ctx := WithJob(WithExecutionID(context.Background(), "exec-1"), "qntx-task-cleanup-old-executions")
	FromContext(ctx, Logger).Infow("running")
	FromContext(context.Background(), Logger).Infow("bare")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "exec-1", entries[0].ContextMap()[FieldExecutionID])
	assert.Equal(t, "qntx-task-cleanup-old-executions", entries[0].ContextMap()[FieldJob])
	assert.Empty(t, entries[1].ContextMap())
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(5))
	assert.Equal(t, "Info (-v)", LevelName(1))
}

func BenchmarkInfow(b *testing.B) {
	Logger = zap.NewNop().Sugar()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Infow("benchmark", FieldExecutionID, "e1", FieldCount, i)
	}
}
