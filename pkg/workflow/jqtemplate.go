package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/agentsmith/fleet/pkg/store"
	"github.com/itchyny/gojq"
)

// depTokenPattern matches {DEP.<node_id>.<jq-expr>} tokens embedded in a
// node's task description, e.g. {DEP.node1..x} to pull the "x" field out of
// node1's result JSON via the gojq expression ".x".
var depTokenPattern = regexp.MustCompile(`\{DEP\.([^.}]+)\.(.*?)\}`)

// buildEnhancedTask appends a "Dependency outputs" section to node's task
// description summarizing every dependency's result, and expands any
// {DEP.<node_id>.<jq-expr>} tokens already present in the task text against
// that dependency's JSON result (spec §4.6 "enhanced task description"; jq
// expansion is a supplemented feature -- see SPEC_FULL.md DOMAIN STACK).
func buildEnhancedTask(node *store.WorkflowNode, byID map[string]*store.WorkflowNode) string {
	results := make(map[string]json.RawMessage, len(node.Dependencies))
	var b strings.Builder
	b.WriteString(node.TaskDescription)

	var summary strings.Builder
	for _, depID := range node.Dependencies {
		dep, ok := byID[depID]
		if !ok || dep.Result == nil {
			continue
		}
		raw := json.RawMessage(*dep.Result)
		if !json.Valid(raw) {
			raw = mustMarshalString(*dep.Result)
		}
		results[depID] = raw
		fmt.Fprintf(&summary, "- %s (%s): %s\n", depID, dep.Role, string(raw))
	}

	if summary.Len() > 0 {
		b.WriteString("\n\nDependency outputs:\n")
		b.WriteString(summary.String())
	}

	return expandDepTokens(b.String(), results)
}

func mustMarshalString(s string) json.RawMessage {
	out, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return out
}

func expandDepTokens(task string, results map[string]json.RawMessage) string {
	return depTokenPattern.ReplaceAllStringFunc(task, func(match string) string {
		groups := depTokenPattern.FindStringSubmatch(match)
		if len(groups) != 3 {
			return match
		}
		nodeID, expr := groups[1], groups[2]
		raw, ok := results[nodeID]
		if !ok {
			return match
		}
		value, err := evalJQ(expr, raw)
		if err != nil {
			return match
		}
		return value
	})
}

func evalJQ(expr string, raw json.RawMessage) (string, error) {
	query, err := gojq.Parse("." + strings.TrimPrefix(expr, "."))
	if err != nil {
		return "", fmt.Errorf("parsing jq expression %q: %w", expr, err)
	}

	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return "", fmt.Errorf("unmarshaling dependency result: %w", err)
	}

	iter := query.Run(input)
	v, ok := iter.Next()
	if !ok {
		return "", fmt.Errorf("jq expression %q produced no output", expr)
	}
	if err, ok := v.(error); ok {
		return "", err
	}

	switch t := v.(type) {
	case string:
		return t, nil
	default:
		out, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}
