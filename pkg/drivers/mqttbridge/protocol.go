package mqttbridge

import (
	"encoding/json"
	"fmt"

	"plen/pkg/plen"
)

// Bridge operations. Joint level operations reuse the command stream
// method names.
const (
	opHello   = "hello"
	opGoodbye = "goodbye"
)

// Request is published on <root>/commands.
type Request struct {
	ID       uint64       `json:"id"`
	Op       string       `json:"op"`
	Args     []int        `json:"args,omitempty"`
	Motion   *plen.Motion `json:"motion,omitempty"`
	Firmware []byte       `json:"firmware,omitempty"` // base64 in JSON
}

// Response is published by the bridge on <root>/responses.
type Response struct {
	ID     uint64          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func parseResponse(payload []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return resp, fmt.Errorf("invalid response: %w", err)
	}
	if resp.ID == 0 {
		return resp, fmt.Errorf("response without id: %s", payload)
	}
	if !resp.OK && resp.Error == "" {
		return resp, fmt.Errorf("failed response without error: %s", payload)
	}
	return resp, nil
}

// decodeBool reads a boolean result. A missing result counts as success.
func decodeBool(raw json.RawMessage) (bool, error) {
	if len(raw) == 0 {
		return true, nil
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return false, fmt.Errorf("invalid boolean result %s: %w", raw, err)
	}
	return ok, nil
}
