package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"direct", Unauthorized("bad credentials"), KindUnauthorized},
		{"wrapped", fmt.Errorf("login: %w", NotFound("tenant not found")), KindNotFound},
		{"plain error", errors.New("boom"), KindInternal},
		{"internal", Internal("db down", errors.New("dial tcp")), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("refresh: %w", Unauthorized("refresh token revoked"))

	assert.True(t, errors.Is(err, Unauthorized("")))
	assert.False(t, errors.Is(err, BadRequest("")))
	assert.True(t, IsKind(err, KindUnauthorized))
	assert.False(t, IsKind(nil, KindUnauthorized))
}

func TestMessageHidesInternalCause(t *testing.T) {
	assert.Equal(t, "email already in use", Message(Conflict("email already in use")))
	assert.Equal(t, "internal server error", Message(Internal("query failed", errors.New("pq: relation missing"))))
	assert.Equal(t, "internal server error", Message(errors.New("raw")))
}

func TestErrorString(t *testing.T) {
	err := Wrap(KindInternal, "failed to rotate", errors.New("tx aborted"))
	assert.Equal(t, "failed to rotate: tx aborted", err.Error())
	assert.Equal(t, "nope", Forbidden("nope").Error())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(KindUnauthorized))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(KindForbidden))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindConflict))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindBadRequest))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
}
