package domain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestRefinedErrorsKeepTheirKind(t *testing.T) {
	tests := []struct {
		err  error
		kind error
	}{
		{ErrCallNotFound, ErrUsage},
		{ErrCallNotReady, ErrUsage},
		{ErrCallAlreadyAnswered, ErrNegotiationState},
		{ErrAlreadyJoined, ErrNegotiationState},
		{ErrHungUp, ErrNegotiationState},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			wrapped := errors.Wrap(tt.err, "call 42")
			assert.True(t, errors.Is(wrapped, tt.err))
			assert.True(t, errors.Is(wrapped, tt.kind))
			assert.False(t, errors.Is(wrapped, ErrRelayUnavailable))
		})
	}
}

func TestOpError(t *testing.T) {
	cause := errors.New("connection refused")
	err := RelayError("write offer", cause)

	assert.True(t, errors.Is(err, ErrRelayUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrEndpointFailure))
	assert.Equal(t, "write offer: relay unavailable: connection refused", err.Error())

	var op *OpError
	assert.True(t, errors.As(err, &op))
	assert.Equal(t, "write offer", op.Op)

	assert.NoError(t, RelayError("noop", nil))
	assert.NoError(t, EndpointError("noop", nil))
	assert.True(t, errors.Is(EndpointError("close", cause), ErrEndpointFailure))
}
