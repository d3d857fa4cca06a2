package otp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func clockAt(t time.Time) (*time.Time, func() time.Time) {
	current := t
	return &current, func() time.Time { return current }
}

func TestConsumeOnce(t *testing.T) {
	s := NewMemoryStore()
	s.Put("+84901234567", "123456", 5*time.Minute)

	assert.True(t, s.Consume("+84901234567", "123456"))
	assert.False(t, s.Consume("+84901234567", "123456"), "a code works at most once")
}

func TestWrongCodeKeepsEntry(t *testing.T) {
	s := NewMemoryStore()
	s.Put("+84901234567", "123456", 5*time.Minute)

	assert.False(t, s.Consume("+84901234567", "000000"))
	assert.True(t, s.Consume("+84901234567", "123456"), "a wrong guess must not burn the real code")
}

func TestExpiredCodeRejected(t *testing.T) {
	s := NewMemoryStore()
	current, now := clockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	s.now = now

	s.Put("+84901234567", "123456", 5*time.Minute)
	*current = current.Add(5*time.Minute + time.Second)

	assert.False(t, s.Consume("+84901234567", "123456"))
	assert.False(t, s.Consume("+84901234567", "123456"))
}

func TestUnknownKey(t *testing.T) {
	s := NewMemoryStore()
	assert.False(t, s.Consume("+84900000000", "123456"))
}

func TestPutOverwrites(t *testing.T) {
	s := NewMemoryStore()
	s.Put("+84901234567", "111111", 5*time.Minute)
	s.Put("+84901234567", "222222", 5*time.Minute)

	assert.False(t, s.Consume("+84901234567", "111111"))
	assert.True(t, s.Consume("+84901234567", "222222"))
}

func TestSweepDropsExpired(t *testing.T) {
	s := NewMemoryStore()
	current, now := clockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	s.now = now

	s.Put("old", "111111", time.Minute)
	*current = current.Add(2 * time.Minute)
	s.Put("fresh", "222222", time.Minute)

	assert.Len(t, s.m, 1)
	assert.True(t, s.Consume("fresh", "222222"))
}
