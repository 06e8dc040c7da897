package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EchoPostAI/echopost/pkg/db"
)

func TestRenewWatchesRequiresMaintenanceKey(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/maintenance/renew-watches", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/maintenance/renew-watches", nil)
	req.Header.Set("X-Maintenance-Key", "wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Correct key with no connected users is a clean no-op sweep.
	req = httptest.NewRequest(http.MethodPost, "/maintenance/renew-watches", nil)
	req.Header.Set("X-Maintenance-Key", "sweep-secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp["renewed"])
	assert.Equal(t, 0, resp["failed"])
}

func TestContactManagement(t *testing.T) {
	srv, store, _ := newTestServer(t)
	router := srv.Router()

	user, err := store.CreateUser(context.Background(), "user@example.com")
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{"email": "alice@example.com", "name": "Alice"})
	req := httptest.NewRequest(http.MethodPost, "/users/"+user.ID+"/contacts", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/users/"+user.ID+"/contacts", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var contacts []db.Contact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &contacts))
	require.Len(t, contacts, 1)
	assert.Equal(t, "alice@example.com", contacts[0].Email)

	req = httptest.NewRequest(http.MethodDelete, "/users/"+user.ID+"/contacts/alice@example.com", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	allowed, err := store.IsContactAllowed(context.Background(), user.ID, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestAddContactValidation(t *testing.T) {
	srv, store, _ := newTestServer(t)
	router := srv.Router()

	user, err := store.CreateUser(context.Background(), "user@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/users/"+user.ID+"/contacts", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMessageNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/messages/unknown", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
