package contracts

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// DecodePolicyOutput parses a PolicyOutput from a token string (JSON or
// Base64-wrapped JSON). Callers receiving a decision across a process
// boundary decode it here, then re-validate it against their own input.
func DecodePolicyOutput(token string) (*PolicyOutput, error) {
	trimmed := strings.TrimSpace(token)

	// Plain JSON
	if strings.HasPrefix(trimmed, "{") {
		var out PolicyOutput
		if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
			return nil, fmt.Errorf("decode policy output: %w", err)
		}
		return &out, nil
	}

	// Base64
	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode policy output: token is neither JSON nor base64: %w", err)
	}
	var out PolicyOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode policy output: %w", err)
	}
	return &out, nil
}

// EncodePolicyOutput serializes out to a JSON token.
func EncodePolicyOutput(out *PolicyOutput) (string, error) {
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode policy output: %w", err)
	}
	return string(b), nil
}
