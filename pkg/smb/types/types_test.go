package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusString(t *testing.T) {
	assert.Equal(t, "STATUS_SUCCESS", StatusSuccess.String())
	assert.Equal(t, "STATUS_LOCK_NOT_GRANTED", StatusLockNotGranted.String())
	assert.Equal(t, "STATUS_0xC0001234", Status(0xC0001234).String())
}

func TestStatusSeverity(t *testing.T) {
	assert.True(t, StatusBadNetworkName.IsError())
	assert.False(t, StatusSuccess.IsError())
	assert.True(t, StatusBufferOverflow.IsWarning())
	assert.False(t, StatusBufferOverflow.IsError())
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "TREE_CONNECT", CommandTreeConnect.String())
	assert.Equal(t, "COMMAND_0x00FF", Command(0xFF).String())
}

func TestFiletime(t *testing.T) {
	assert.Zero(t, Filetime(time.Time{}))
	assert.True(t, FromFiletime(0).IsZero())

	ts := time.Date(2024, 3, 1, 12, 30, 0, 500, time.UTC)
	assert.Equal(t, ts.Truncate(100*time.Nanosecond), FromFiletime(Filetime(ts)))
	assert.Equal(t, uint64(116444736000000000), Filetime(time.Unix(0, 0)))
}
