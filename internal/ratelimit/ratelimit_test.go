package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_AllowWithinWindow(t *testing.T) {
	l := New(3, time.Minute)

	assert.True(t, l.Allow("user-1"))
	assert.True(t, l.Allow("user-1"))
	assert.True(t, l.Allow("user-1"))
	assert.False(t, l.Allow("user-1"), "fourth request in the window is denied")
}

func TestLimiter_WindowSlides(t *testing.T) {
	l := New(2, time.Minute)
	now := time.Now()
	l.nowFunc = func() time.Time { return now }

	assert.True(t, l.Allow("user-1"))
	assert.True(t, l.Allow("user-1"))
	assert.False(t, l.Allow("user-1"))

	// Once the earlier requests age out, capacity returns.
	now = now.Add(61 * time.Second)
	assert.True(t, l.Allow("user-1"))
}

func TestLimiter_DeniedRequestsNotRecorded(t *testing.T) {
	l := New(1, time.Minute)
	now := time.Now()
	l.nowFunc = func() time.Time { return now }

	assert.True(t, l.Allow("user-1"))
	assert.False(t, l.Allow("user-1"))
	assert.False(t, l.Allow("user-1"))

	// Only the single admitted request occupies the window.
	now = now.Add(61 * time.Second)
	assert.True(t, l.Allow("user-1"))
}

func TestLimiter_UsersIndependent(t *testing.T) {
	l := New(1, time.Minute)

	assert.True(t, l.Allow("user-1"))
	assert.True(t, l.Allow("user-2"))
	assert.False(t, l.Allow("user-1"))
}

func TestLimiter_Remaining(t *testing.T) {
	l := New(3, time.Minute)

	assert.Equal(t, 3, l.Remaining("user-1"))
	l.Allow("user-1")
	assert.Equal(t, 2, l.Remaining("user-1"))
}

func TestLimiter_Reset(t *testing.T) {
	l := New(1, time.Minute)

	assert.True(t, l.Allow("user-1"))
	assert.False(t, l.Allow("user-1"))

	l.Reset("user-1")
	assert.True(t, l.Allow("user-1"))
}

func TestLimiter_DisabledAdmitsEverything(t *testing.T) {
	l := New(0, time.Minute)

	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("user-1"))
	}
}
