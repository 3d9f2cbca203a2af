package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.ConsecutiveFailures = 2
	cfg.Timeout = time.Minute
	b := New[int](cfg, nil)

	boom := errors.New("boom")
	calls := 0
	fail := func() (int, error) {
		calls++
		return 0, boom
	}

	_, err := b.Execute(fail)
	assert.ErrorIs(t, err, boom)
	_, err = b.Execute(fail)
	assert.ErrorIs(t, err, boom)

	_, err = b.Execute(fail)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "open", b.State())
}

func TestBreaker_IgnoresNonFailures(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.ConsecutiveFailures = 1
	notFailure := errors.New("client error")
	b := New[string](cfg, func(err error) bool {
		return err == nil || errors.Is(err, notFailure)
	})

	for i := 0; i < 3; i++ {
		_, err := b.Execute(func() (string, error) { return "", notFailure })
		assert.ErrorIs(t, err, notFailure)
	}
	assert.Equal(t, "closed", b.State())

	v, err := b.Execute(func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
