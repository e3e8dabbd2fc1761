package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHostHealthStore_CooldownMonotonicity(t *testing.T) {
	store := NewHostHealthStore(nil)
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{1, 10 * time.Minute},
		{2, 20 * time.Minute},
		{3, 40 * time.Minute},
		{4, 80 * time.Minute},
		{5, 120 * time.Minute}, // capped
		{6, 120 * time.Minute},
	}
	for _, c := range cases {
		got := cooldownDuration(c.failures)
		assert.Equal(t, c.want, got, "failures=%d", c.failures)

		rec := store.RecordFailure("h1", nil, ErrKindOther, "boom")
		assert.Equal(t, c.failures, rec.ConsecutiveFailures)
		assert.Equal(t, c.want, rec.CooldownUntil.Sub(*rec.LastErrorAt), "failures=%d", c.failures)
	}
}

func TestHostHealthStore_RecordFailure_SetsCooldownFromErrorInstant(t *testing.T) {
	store := NewHostHealthStore(nil)
	when := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	rec := store.RecordFailure("h1", &when, ErrKindUnreachable, "unreachable")
	assert.Equal(t, 1, rec.ConsecutiveFailures)
	assert.Equal(t, when.Add(10*time.Minute), *rec.CooldownUntil)

	rec = store.RecordFailure("h1", &when, ErrKindUnreachable, "unreachable")
	assert.Equal(t, 2, rec.ConsecutiveFailures)
	assert.Equal(t, when.Add(20*time.Minute), *rec.CooldownUntil)
}

func TestHostHealthStore_SuccessClearsFailures(t *testing.T) {
	store := NewHostHealthStore(nil)
	when := time.Now()
	store.RecordFailure("h1", &when, ErrKindOther, "boom")
	store.RecordFailure("h1", &when, ErrKindOther, "boom")

	rec := store.RecordSuccess("h1", nil)
	assert.Equal(t, 0, rec.ConsecutiveFailures)
	assert.Nil(t, rec.CooldownUntil)
	assert.NotNil(t, rec.LastSuccessAt)
}

func TestHostHealthStore_ZeroFailuresImpliesNoCooldown(t *testing.T) {
	store := NewHostHealthStore(nil)
	rec := store.Get("never-seen")
	assert.Equal(t, 0, rec.ConsecutiveFailures)
	assert.Nil(t, rec.CooldownUntil)
}
