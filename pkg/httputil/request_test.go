package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/medora-health/clinicore/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func TestParseJSON(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c","password":"x"}`))
		var body loginBody
		require.NoError(t, ParseJSON(httptest.NewRecorder(), r, &body))
		assert.Equal(t, "a@b.c", body.Email)
	})

	t.Run("empty body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		var body loginBody
		err := ParseJSON(httptest.NewRecorder(), r, &body)
		assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))
	})

	t.Run("unknown field", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a","role":"ADMIN"}`))
		var body loginBody
		err := ParseJSON(httptest.NewRecorder(), r, &body)
		assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))
	})

	t.Run("trailing data", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a"}{"email":"b"}`))
		var body loginBody
		err := ParseJSON(httptest.NewRecorder(), r, &body)
		assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))
	})
}

func TestParseJSONOrError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`))
	var body loginBody

	ok := ParseJSONOrError(w, r, &body)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathUUID(t *testing.T) {
	id := uuid.New()

	r := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"staff_id": id.String()})
	got, err := ParsePathUUID(r, "staff_id")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	r = mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"staff_id": "nope"})
	_, err = ParsePathUUID(r, "staff_id")
	assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))

	_, err = ParsePathUUID(httptest.NewRequest(http.MethodGet, "/", nil), "staff_id")
	assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))
}

func TestStatusRecorderAndChain(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(mw("outer"), mw("inner"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	}))

	rec := NewStatusRecorder(httptest.NewRecorder())
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
	assert.Equal(t, http.StatusTeapot, rec.Status)
	assert.True(t, rec.WroteHeader())
}
