package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceID(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		assert.Empty(t, GetTraceID(context.Background()))
	})

	t.Run("set generates a new id each time", func(t *testing.T) {
		a := GetTraceID(SetTraceID(context.Background()))
		b := GetTraceID(SetTraceID(context.Background()))
		assert.Len(t, a, 26)
		assert.NotEqual(t, a, b)
		assert.Regexp(t, `^[0-9a-z]+$`, a)
	})

	t.Run("explicit id", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "abc")
		assert.Equal(t, "abc", GetTraceID(ctx))
	})
}
