package bridgeerr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithCauseUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewWithCause(StoreUnavailable, "store unavailable", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "store unavailable: connection refused", err.Error())
}

func TestFromErrorNilReturnsNil(t *testing.T) {
	assert.Nil(t, FromError(Internal, nil))
}

func TestIsMatchesOutermostKindOnly(t *testing.T) {
	inner := New(ToolTimeout, "timed out")
	wrapped := NewWithCause(Internal, "wrapper", inner)

	assert.True(t, Is(inner, ToolTimeout))
	assert.False(t, Is(wrapped, ToolTimeout), "Is checks the outermost *Error's kind, not causes")
}

func TestKindOfDefaultsFalseForPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestKindOfExtractsKind(t *testing.T) {
	err := New(RateLimited, "too many requests")
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, RateLimited, kind)
}

func TestHTTPStatusKnownKinds(t *testing.T) {
	cases := map[Kind]int{
		StoreUnavailable:       http.StatusServiceUnavailable,
		AuthenticationFailed:   http.StatusUnauthorized,
		AuthorizationFailed:    http.StatusForbidden,
		RateLimited:            http.StatusTooManyRequests,
		UnknownTool:            http.StatusBadRequest,
		InvalidArguments:       http.StatusBadRequest,
		ValidationError:        http.StatusBadRequest,
		ToolTimeout:            http.StatusGatewayTimeout,
		ToolParse:              http.StatusBadGateway,
		ConnectionBackpressure: http.StatusServiceUnavailable,
		ResultSerialize:        http.StatusInternalServerError,
		Internal:               http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), "kind %s", kind)
	}
}

func TestHTTPStatusUnknownKindDefaultsTo500(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Kind("made_up")))
}

func TestErrorfFormats(t *testing.T) {
	err := Errorf(ValidationError, "dsl is invalid at %d", 42)
	assert.Equal(t, "dsl is invalid at 42", err.Error())
	assert.Equal(t, ValidationError, err.Kind)
}
