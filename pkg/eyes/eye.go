// Package eyes holds the validator implementations and the registry that
// dispatches them by name.
package eyes

import (
	"context"

	"github.com/third-eye/thirdeye/pkg/models"
)

// Canonical eye names.
const (
	NameSharingan    = "sharingan"
	NamePromptHelper = "prompt_helper"
	NameJogan        = "jogan"
	NameRinnegan     = "rinnegan"
	NameMangekyo     = "mangekyo"
	NameTenseigan    = "tenseigan"
	NameByakugan     = "byakugan"
)

// Description is an eye's static capability record.
type Description struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Summary   string   `json:"summary"`
	Accepts   []string `json:"accepts,omitempty"`
	Clarifies bool     `json:"clarifies"`
}

// Eye is a single validator. Invoke may block on provider I/O; callers
// bound it with a context deadline via the registry.
type Eye interface {
	Describe() Description
	Invoke(ctx context.Context, env models.Envelope) (models.EyeResult, error)
	Health(ctx context.Context) error
}
