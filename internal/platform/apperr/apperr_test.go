package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationMatchesSentinel(t *testing.T) {
	err := Validation("password must be at least %d characters", 8)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, "password must be at least 8 characters", err.Error())
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("refresh: %w", ErrInvalidRefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	assert.NotErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, KindAuthentication, KindOf(err))
	assert.Equal(t, "invalid_refresh_token", CodeOf(err))
}

func TestKindOfPlainError(t *testing.T) {
	err := errors.New("db down")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal error", PublicMessage(err))
}
