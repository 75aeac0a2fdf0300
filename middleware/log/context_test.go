package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceIDContext(t *testing.T) {
	t.Run("keeps the provided id", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace-1")
		assert.Equal(t, "trace-1", GetTraceID(ctx))
	})

	t.Run("generates a uuid when empty", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "")
		assert.Len(t, GetTraceID(ctx), 36)
	})

	t.Run("missing id", func(t *testing.T) {
		assert.Empty(t, GetTraceID(context.Background()))
	})

	t.Run("ids are unique", func(t *testing.T) {
		assert.NotEqual(t, NewTraceID(), NewTraceID())
	})
}
