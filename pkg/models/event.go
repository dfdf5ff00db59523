package models

import "time"

// Pipeline event types published on the bus.
const (
	EventTypeEyeUpdate             = "eye_update"
	EventTypeOrchestrationProgress = "orchestration_progress"
	EventTypeSettingsUpdate        = "settings_update"
	EventTypeUserInput             = "user_input"
)

// PipelineEvent is one timestamped, sequenced record delivered to observers
// of a session. Seq is assigned by the bus and is strictly monotonic per
// session.
type PipelineEvent struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Seq       uint64         `json:"seq"`
	TS        time.Time      `json:"ts"`
	Eye       string         `json:"eye,omitempty"`
	OK        *bool          `json:"ok,omitempty"`
	Code      string         `json:"code,omitempty"`
	MD        string         `json:"md,omitempty"`
	Data      map[string]any `json:"data,omitempty"`

	// Dropped counts events the bus discarded for this subscriber since the
	// previous delivery. Zero except immediately after backpressure drops.
	Dropped uint64 `json:"dropped,omitempty"`
}

// ProgressData is the Data payload of an orchestration_progress event.
type ProgressData struct {
	Stage        string  `json:"stage"`
	Message      string  `json:"message,omitempty"`
	Progress     float64 `json:"progress"`
	CurrentStage int     `json:"current_stage"`
	TotalStages  int     `json:"total_stages"`
	Aborted      bool    `json:"aborted,omitempty"`
}

// AsMap converts the progress payload to the generic event data form.
func (p ProgressData) AsMap() map[string]any {
	m := map[string]any{
		"stage":         p.Stage,
		"progress":      p.Progress,
		"current_stage": p.CurrentStage,
		"total_stages":  p.TotalStages,
	}
	if p.Message != "" {
		m["message"] = p.Message
	}
	if p.Aborted {
		m["aborted"] = true
	}
	return m
}
