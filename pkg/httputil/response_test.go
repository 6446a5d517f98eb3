package httputil

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	err := WriteJSON(rec, 201, map[string]string{"id": "abc"})
	require.NoError(t, err)

	assert.Equal(t, 201, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "abc", decodeBody(t, rec)["id"])
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, 500, errors.New("boom"))

	assert.Equal(t, 500, rec.Code)
	assert.Equal(t, "boom", decodeBody(t, rec)["error"])
}

func TestStatusHelpers(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteBadRequest(rec, "bad input")
	assert.Equal(t, 400, rec.Code)
	assert.Equal(t, "bad input", decodeBody(t, rec)["error"])

	rec = httptest.NewRecorder()
	WriteUnauthorized(rec, "authentication failed")
	assert.Equal(t, 401, rec.Code)

	rec = httptest.NewRecorder()
	require.NoError(t, WriteSuccess(rec, map[string]string{"ok": "yes"}))
	assert.Equal(t, 200, rec.Code)
}
