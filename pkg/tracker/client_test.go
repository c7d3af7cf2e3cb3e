package tracker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsmith/fleet/pkg/tracker"
)

func TestOutboundClient_PostRootStatus(t *testing.T) {
	t.Run("posts status to the expected path", func(t *testing.T) {
		var gotPath string
		var gotBody tracker.RootStatusPayload
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := tracker.NewOutboundClient(server.URL)
		err := client.PostRootStatus(context.Background(), tracker.RootStatusPayload{AgentID: "agent-1", Status: "completed"})
		require.NoError(t, err)
		assert.Equal(t, "/agents/agent-1/status", gotPath)
		assert.Equal(t, "agent-1", gotBody.AgentID)
		assert.Equal(t, "completed", gotBody.Status)
	})

	t.Run("HTTP error status returns error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := tracker.NewOutboundClient(server.URL)
		err := client.PostRootStatus(context.Background(), tracker.RootStatusPayload{AgentID: "agent-1", Status: "failed"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "500")
	})

	t.Run("empty base URL is a no-op", func(t *testing.T) {
		client := tracker.NewOutboundClient("")
		err := client.PostRootStatus(context.Background(), tracker.RootStatusPayload{AgentID: "agent-1", Status: "completed"})
		require.NoError(t, err)
	})
}
