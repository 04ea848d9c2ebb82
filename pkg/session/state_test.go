package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateNames(t *testing.T) {
	assert.Equal(t, "IDLE", Idle.String())
	assert.Equal(t, "AWAIT_RESPONSE", AwaitResponse.String())
	assert.Equal(t, "REBOOT", Reboot.String())
	assert.False(t, Idle.Active())
	assert.True(t, RequestSent.Active())
}

func TestBusLock(t *testing.T) {
	b := NewBusLock()
	assert.True(t, b.TryLock("a"))
	assert.False(t, b.TryLock("a"))
	assert.True(t, b.TryLock("b"))
	b.Unlock("a")
	assert.True(t, b.TryLock("a"))
}
