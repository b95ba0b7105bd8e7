package messaging_test

import (
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/serroba/campaign-attribution/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := messaging.NewZapLogger(zap.New(core))

	logger.Info("subscribed", watermill.LogFields{"topic": "access_logged"})
	logger.With(watermill.LogFields{"consumer_group": "g"}).Trace("ack", nil)
	logger.Error("publish failed", errors.New("boom"), nil)

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "access_logged", entries[0].ContextMap()["topic"])

	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "g", entries[1].ContextMap()["consumer_group"])

	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "boom", entries[2].ContextMap()["error"])
}
