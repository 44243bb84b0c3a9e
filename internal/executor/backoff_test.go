package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Multiplier: 2, Max: 30 * time.Second, MaxAttempts: 5}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{100, 30 * time.Second},
		{5000, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, p.Schedule())
	assert.False(t, p.Exhausted(4))
	assert.True(t, p.Exhausted(5))
}

func TestBackoffValidate(t *testing.T) {
	assert.NoError(t, DefaultBackoff().Validate())
	assert.Error(t, BackoffPolicy{}.Validate())
	assert.Error(t, BackoffPolicy{Base: time.Second, Multiplier: 0.5, Max: time.Minute, MaxAttempts: 1}.Validate())
	assert.Error(t, BackoffPolicy{Base: time.Minute, Multiplier: 2, Max: time.Second, MaxAttempts: 1}.Validate())
}
