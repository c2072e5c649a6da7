package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorscout/searchjobs/pkg/types"
)

func TestWebhookNotifier(t *testing.T) {
	var (
		got  types.Notification
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "secret", srv.Client())
	err := n.Notify(context.Background(), types.Notification{CampaignID: "c1", UserID: "u1", CampaignName: "spring"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "c1", got.CampaignID)
	assert.Equal(t, "spring", got.CampaignName)
}

func TestWebhookNotifierNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, "", srv.Client()).Notify(context.Background(), types.Notification{CampaignID: "c1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, LogNotifier{}.Notify(context.Background(), types.Notification{CampaignID: "c1"}))
}
