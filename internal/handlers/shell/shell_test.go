package shell

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandle(t *testing.T) {
	h := Shell{}
	ctx := context.Background()

	assert.NoError(t, h.Handle(ctx, json.RawMessage(`{"command":"true"}`)))
	assert.NoError(t, h.Handle(ctx, json.RawMessage(`{"command":"sh","args":["-c","exit 0"],"dir":"/"}`)))

	err := h.Handle(ctx, json.RawMessage(`{"command":"sh","args":["-c","echo oops; exit 3"]}`))
	assert.ErrorContains(t, err, "out=oops")

	assert.ErrorContains(t, h.Handle(ctx, json.RawMessage(`{}`)), "command is required")
}

func TestClip(t *testing.T) {
	long := strings.Repeat("x", maxOutput+10)
	got := clip([]byte(long + "\n"))
	assert.Len(t, got, maxOutput+3)
	assert.Equal(t, "ok", clip([]byte("  ok \n")))
}
