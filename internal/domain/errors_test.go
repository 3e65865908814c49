package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinels_AreDistinct(t *testing.T) {
	all := []error{
		ErrInvalidArgument, ErrNoCredentials, ErrRateLimited, ErrUpstreamTimeout,
		ErrUpstreamRateLimit, ErrUpstreamUnavailable, ErrUpstreamStatus,
		ErrSchemaInvalid, ErrInternal,
	}
	for i, a := range all {
		assert.NotEmpty(t, a.Error())
		for j, b := range all {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v must not match %v", a, b)
			}
		}
	}
}

func TestSentinels_SurviveWrapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"client timeout", fmt.Errorf("op=real.Chat: context deadline exceeded: %w", ErrUpstreamTimeout), ErrUpstreamTimeout},
		{"double wrap", fmt.Errorf("attempt 2: %w", fmt.Errorf("op=real.Chat: status 429: %w", ErrUpstreamRateLimit)), ErrUpstreamRateLimit},
		{"startup", fmt.Errorf("op=config.Credentials: %w", ErrNoCredentials), ErrNoCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.target)
		})
	}
}
