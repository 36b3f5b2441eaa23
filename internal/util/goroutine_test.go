package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSafeGo_RunsFunction(t *testing.T) {
	done := make(chan struct{})

	SafeGo(zap.NewNop().Sugar(), "test", func() {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("function never ran")
	}
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	ran := make(chan struct{})
	SafeGo(logger, "test", func() {
		defer close(ran)
		panic("boom")
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("goroutine never finished")
	}

	// The panic is logged, not propagated
	require.Eventually(t, func() bool { return logs.Len() == 1 },
		time.Second, 10*time.Millisecond)
	entry := logs.All()[0]
	assert.Equal(t, "Panic recovered in goroutine", entry.Message)
	assert.Equal(t, "boom", entry.ContextMap()["panic"])
}
