package actuator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quicklock/lock-pairing-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHomeAssistantClient(t *testing.T) {
	var gotPath, gotAuth, gotEntity string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotEntity = body["entity_id"]
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := NewHomeAssistantClient(server.URL, "test-token", map[interfaces.EntityID]Entity{
		"front-door": {Name: "Front Door", HAEntity: "lock.front_door"},
	}, logger)

	require.NoError(t, client.Unlock(context.Background(), "front-door"))
	assert.Equal(t, "/api/services/lock/unlock", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "lock.front_door", gotEntity)

	require.NoError(t, client.Lock(context.Background(), "front-door"))
	assert.Equal(t, "/api/services/lock/lock", gotPath)
}

func TestHomeAssistantClient_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := NewHomeAssistantClient(server.URL, "test-token", map[interfaces.EntityID]Entity{
		"front-door": {HAEntity: "lock.front_door"},
	}, logger)

	assert.Error(t, client.Unlock(context.Background(), "front-door"))

	err := client.Unlock(context.Background(), "garage")
	assert.ErrorIs(t, err, interfaces.ErrEntityNotFound)
}
