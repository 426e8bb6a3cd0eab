package core

import (
	"bytes"
	"testing"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestTracerLevels(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewTracer(log.NewLogfmtLogger(&buf))

	tracer.Error(TraceComponentSink, "dropped")
	require.Empty(t, tracer.GetEntries(), "tracer starts switched off")

	tracer.SetLevel(TraceLevelInfo)
	tracer.Info(TraceComponentArena, "Arena exhausted", TraceContext("seq", 3))
	tracer.Debug(TraceComponentArena, "too verbose")

	entries := tracer.GetEntries()
	require.Len(t, entries, 1)
	require.Equal(t, TraceComponentArena, entries[0].Component)
	require.Equal(t, map[string]interface{}{"seq": 3}, entries[0].Context)
	require.Contains(t, buf.String(), "level=info")
	require.Contains(t, buf.String(), "component=ARENA")
	require.Contains(t, buf.String(), "seq=3")

	tracer.DisableComponent(TraceComponentArena)
	tracer.Warn(TraceComponentArena, "muted")
	require.Len(t, tracer.GetEntries(), 1)

	tracer.Clear()
	require.Empty(t, tracer.GetEntries())
}

func TestParseTraceLevel(t *testing.T) {
	for in, want := range map[string]TraceLevel{
		"debug": TraceLevelDebug,
		" WARN": TraceLevelWarn,
		"info":  TraceLevelInfo,
		"error": TraceLevelError,
		"bogus": TraceLevelOff,
	} {
		require.Equal(t, want, ParseTraceLevel(in), in)
	}
}

func TestTraceContextSkipsMalformedPairs(t *testing.T) {
	require.Equal(t, map[string]interface{}{"a": 1}, TraceContext("a", 1, 2, "x", "dangling"))
}

func TestStructuralErrors(t *testing.T) {
	err := Structural(TraceComponentCompiler, HashModeUnsupported, "node %s", "flatten(x)")
	require.EqualError(t, err, "hash mode unsupported: node flatten(x)")
	require.True(t, IsStructural(err))

	wrapped := errors.Wrap(err, "stage join")
	kind, ok := StructuralKindOf(wrapped)
	require.True(t, ok)
	require.Equal(t, HashModeUnsupported, kind)

	_, ok = StructuralKindOf(errors.New("disk full"))
	require.False(t, ok)
	require.False(t, IsStructural(nil))
}
