package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// RequestHash computes the deterministic hash used for idempotent-replay
// comparison. The idempotency key itself is excluded so the same logical
// request hashes identically regardless of how the key was supplied.
// encoding/json renders map keys in sorted order, which keeps params
// stable across replays.
func RequestHash(req ToolCallRequest) (string, error) {
	canonical := struct {
		AgentID  string         `json:"agent_id"`
		Tool     string         `json:"tool"`
		Action   string         `json:"action"`
		Resource string         `json:"resource"`
		Params   map[string]any `json:"params"`
	}{
		AgentID:  req.AgentID,
		Tool:     req.Tool,
		Action:   req.Action,
		Resource: req.Resource,
		Params:   req.Params,
	}

	encoded, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("hash request: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}
