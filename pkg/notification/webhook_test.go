package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/pkg/config"
)

func TestSendPostsPayload(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(&config.NotifierConfig{WebhookURL: server.URL})
	require.NoError(t, n.Send(context.Background(), "Budget warning", "worker scraper-1 at 80%"))

	assert.Equal(t, "Budget warning", got["title"])
	assert.Equal(t, "worker scraper-1 at 80%", got["message"])
}

func TestSendFailsOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := NewWebhookNotifier(&config.NotifierConfig{WebhookURL: server.URL})
	assert.Error(t, n.Send(context.Background(), "t", "m"))
}

func TestSendWithoutURLIsNoop(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "")
	n := NewWebhookNotifier(&config.NotifierConfig{})
	assert.NoError(t, n.Send(context.Background(), "t", "m"))
}
