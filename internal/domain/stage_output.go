package domain

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// StageOutput is the structured record every agent produces. The content is
// opaque free text; metadata carries per-agent counters (token usage,
// retrieval source counts, topic tags).
type StageOutput struct {
	AgentType   AgentType      `json:"agent_type"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	LLMProvider string         `json:"llm_provider,omitempty"`
	ModelName   string         `json:"model_name,omitempty"`
}

func (o *StageOutput) ToJSON() (datatypes.JSON, error) {
	if o == nil {
		return nil, nil
	}
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func StageOutputFromJSON(raw datatypes.JSON) (*StageOutput, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out StageOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
