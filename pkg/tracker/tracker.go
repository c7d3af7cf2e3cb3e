// Package tracker implements the work-tracker adaptor contract (spec §6
// "Contract with the work-tracker adaptor"): inbound webhook events are
// translated to lifecycle spawn requests by matching a configured rule
// set, and outbound root-agent status transitions are posted back to the
// tracker. Rate limiting is explicitly the adaptor's own concern per spec,
// so this package does not reimplement it.
//
// The rule-matching/HMAC-signature shape is grounded on
// smilemakc-mbflow's WebhookRegistry (internal/application/trigger);
// outbound posting follows the teacher's pkg/runbook.GitHubClient idiom of
// a plain *http.Client wrapped in a small typed client.
package tracker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentsmith/fleet/pkg/apperr"
	"github.com/agentsmith/fleet/pkg/lifecycle"
)

// Rule matches an inbound event against a field value and describes the
// agent to spawn when it matches, mirroring mbflow's per-trigger config
// map but typed to this domain's spawn fields.
type Rule struct {
	ID          string
	MatchField  string // dotted path into the event payload, e.g. "event_type"
	MatchValue  string
	Role        string
	TaskField   string // dotted path whose value becomes the spawned agent's task
	Budget      int
}

// Event is one inbound work-tracker webhook payload.
type Event struct {
	Headers map[string]string
	Body    map[string]any
}

// Adaptor holds the configured rule set and translates matching events
// into lifecycle.Spawn calls (spec §6 "Inbound events are translated to
// spawn requests by matching a configured rule set").
type Adaptor struct {
	lifecycle *lifecycle.Service
	secret    string

	mu    sync.RWMutex
	rules []Rule
}

// New constructs an Adaptor. secret, if non-empty, is the HMAC-SHA256 key
// inbound webhooks must be signed with (X-Tracker-Signature header).
func New(lc *lifecycle.Service, secret string) *Adaptor {
	return &Adaptor{lifecycle: lc, secret: secret}
}

// SetRules replaces the adaptor's rule set wholesale.
func (a *Adaptor) SetRules(rules []Rule) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rules = append([]Rule(nil), rules...)
}

// HandleEvent verifies ev's signature (if a secret is configured), finds
// the first matching rule, and spawns an agent per spec §6. Returns the
// spawned agent id, or ("", nil) if no rule matched (not an error -- most
// tracker events are not spawn-worthy).
func (a *Adaptor) HandleEvent(ctx context.Context, ev Event, rawBody []byte) (string, error) {
	if a.secret != "" {
		if err := a.verifySignature(ev.Headers, rawBody); err != nil {
			return "", fmt.Errorf("verifying webhook signature: %w", err)
		}
	}

	rule, ok := a.match(ev.Body)
	if !ok {
		return "", nil
	}

	task := lookup(ev.Body, rule.TaskField)
	taskStr, ok := task.(string)
	if !ok || taskStr == "" {
		taskStr = fmt.Sprintf("handle event for rule %s", rule.ID)
	}

	budget := rule.Budget
	if budget <= 0 {
		return "", apperr.NewValidationError("budget", fmt.Sprintf("rule %s has no budget configured", rule.ID))
	}

	agentID, err := a.lifecycle.Spawn(ctx, lifecycle.SpawnRequest{
		Role:   rule.Role,
		Task:   taskStr,
		Budget: budget,
	})
	if err != nil {
		return "", fmt.Errorf("spawning root agent for rule %s: %w", rule.ID, err)
	}
	return agentID, nil
}

func (a *Adaptor) match(body map[string]any) (Rule, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, rule := range a.rules {
		v := lookup(body, rule.MatchField)
		if s, ok := v.(string); ok && s == rule.MatchValue {
			return rule, true
		}
	}
	return Rule{}, false
}

// verifySignature checks the X-Tracker-Signature header against an
// HMAC-SHA256 digest of rawBody, the same hmac.Equal comparison mbflow's
// WebhookRegistry.validateSignature uses.
func (a *Adaptor) verifySignature(headers map[string]string, rawBody []byte) error {
	sig := headers["X-Tracker-Signature"]
	if sig == "" {
		return fmt.Errorf("missing X-Tracker-Signature header")
	}
	mac := hmac.New(sha256.New, []byte(a.secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// lookup resolves a dotted path (e.g. "payload.id") into a nested map.
func lookup(body map[string]any, path string) any {
	if path == "" {
		return nil
	}
	cur := any(body)
	for _, part := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

// RootStatusPayload is the outbound body posted to the tracker when a
// root agent (one with no parent) reaches a terminal status (spec §6
// "outbound updates post state transitions of the root agent back to the
// tracker").
type RootStatusPayload struct {
	AgentID string  `json:"agent_id"`
	Status  string  `json:"status"`
	Result  *string `json:"result,omitempty"`
	Error   *string `json:"error,omitempty"`
}

// Marshal renders p as the JSON body posted to the tracker's outbound
// endpoint.
func (p RootStatusPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}
