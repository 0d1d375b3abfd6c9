package executor

import "encoding/json"

// Assistant stream event type constants (one JSON object per line, as
// emitted by `--output-format stream-json`).
const (
	streamEventSystem    = "system"
	streamEventAssistant = "assistant"
	streamEventUser      = "user"
	streamEventResult    = "result"
	streamEventInit      = "init"
)

// streamEvent is the top-level envelope for every JSON line the assistant
// CLI emits in streaming mode. Type determines which fields are populated.
type streamEvent struct {
	Type          string          `json:"type"`
	Subtype       string          `json:"subtype,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	Tools         []string        `json:"tools,omitempty"`
	Model         string          `json:"model,omitempty"`
	Message       string          `json:"message,omitempty"`
	ToolName      string          `json:"tool_name,omitempty"`
	ToolInput     json.RawMessage `json:"tool_input,omitempty"`
	ToolUseID     string          `json:"tool_use_id,omitempty"`
	CostUSD       float64         `json:"cost_usd,omitempty"`
	DurationMS    float64         `json:"duration_ms,omitempty"`
	DurationAPIMS float64         `json:"duration_api_ms,omitempty"`
	IsError       bool            `json:"is_error,omitempty"`
	NumTurns      int             `json:"num_turns,omitempty"`
}

func parseStreamEvent(data []byte) (streamEvent, error) {
	var ev streamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return streamEvent{}, err
	}
	return ev, nil
}
