package tracker_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsmith/fleet/pkg/budget"
	"github.com/agentsmith/fleet/pkg/hierarchy"
	"github.com/agentsmith/fleet/pkg/lifecycle"
	"github.com/agentsmith/fleet/pkg/tracker"
	"github.com/agentsmith/fleet/test/testutil"
)

func newAdaptor(t *testing.T, secret string) *tracker.Adaptor {
	t.Helper()
	db := testutil.NewDB(t)
	h := hierarchy.New(db.Bun, nil)
	b := budget.New(db.Bun)
	lc := lifecycle.New(db.Bun, h, b, 0)
	return tracker.New(lc, secret)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandleEvent_SpawnsOnMatchingRule(t *testing.T) {
	a := newAdaptor(t, "")
	a.SetRules([]tracker.Rule{
		{ID: "incident-opened", MatchField: "event_type", MatchValue: "incident.opened", Role: "triage", TaskField: "payload.summary", Budget: 500},
	})

	body := []byte(`{"event_type":"incident.opened","payload":{"summary":"disk full on db-1"}}`)
	agentID, err := a.HandleEvent(t.Context(), tracker.Event{Body: map[string]any{
		"event_type": "incident.opened",
		"payload":    map[string]any{"summary": "disk full on db-1"},
	}}, body)
	require.NoError(t, err)
	assert.NotEmpty(t, agentID)
}

func TestHandleEvent_NoMatchReturnsEmpty(t *testing.T) {
	a := newAdaptor(t, "")
	a.SetRules([]tracker.Rule{
		{ID: "incident-opened", MatchField: "event_type", MatchValue: "incident.opened", Role: "triage", TaskField: "payload.summary", Budget: 500},
	})

	agentID, err := a.HandleEvent(t.Context(), tracker.Event{Body: map[string]any{
		"event_type": "incident.resolved",
	}}, []byte(`{"event_type":"incident.resolved"}`))
	require.NoError(t, err)
	assert.Empty(t, agentID)
}

func TestHandleEvent_RejectsBadSignature(t *testing.T) {
	a := newAdaptor(t, "s3cret")
	a.SetRules([]tracker.Rule{
		{ID: "x", MatchField: "event_type", MatchValue: "x", Role: "r", TaskField: "", Budget: 100},
	})

	body := []byte(`{"event_type":"x"}`)
	_, err := a.HandleEvent(t.Context(), tracker.Event{
		Headers: map[string]string{"X-Tracker-Signature": "deadbeef"},
		Body:    map[string]any{"event_type": "x"},
	}, body)
	require.Error(t, err)
}

func TestHandleEvent_AcceptsValidSignature(t *testing.T) {
	secret := "s3cret"
	a := newAdaptor(t, secret)
	a.SetRules([]tracker.Rule{
		{ID: "x", MatchField: "event_type", MatchValue: "x", Role: "r", TaskField: "", Budget: 100},
	})

	body := []byte(`{"event_type":"x"}`)
	agentID, err := a.HandleEvent(t.Context(), tracker.Event{
		Headers: map[string]string{"X-Tracker-Signature": sign(secret, body)},
		Body:    map[string]any{"event_type": "x"},
	}, body)
	require.NoError(t, err)
	assert.NotEmpty(t, agentID)
}

func TestHandleEvent_MissingBudgetIsValidationError(t *testing.T) {
	a := newAdaptor(t, "")
	a.SetRules([]tracker.Rule{
		{ID: "no-budget", MatchField: "event_type", MatchValue: "x", Role: "r", TaskField: ""},
	})

	_, err := a.HandleEvent(t.Context(), tracker.Event{Body: map[string]any{"event_type": "x"}}, []byte(`{"event_type":"x"}`))
	require.Error(t, err)
}
