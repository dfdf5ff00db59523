package api

import (
	"encoding/json"

	"github.com/third-eye/thirdeye/pkg/models"
)

// envelopeBody is the orchestration request as submitted directly over
// HTTP.
type envelopeBody struct {
	Context     *models.RequestContext `json:"context,omitempty"`
	Payload     *models.WorkPayload    `json:"payload,omitempty"`
	ReasoningMD string                 `json:"reasoning_md,omitempty"`
	StrictMode  *bool                  `json:"strict_mode,omitempty"`
}

// bridgeBody is the same request as wrapped by the MCP stdio bridge. The
// wrapper keys form a closed set recognized at decode; everything the
// host cares about lives under arguments.
type bridgeBody struct {
	Arguments     *envelopeBody   `json:"arguments"`
	Signal        json.RawMessage `json:"signal,omitempty"`
	Meta          json.RawMessage `json:"_meta,omitempty"`
	RequestID     json.RawMessage `json:"requestId,omitempty"`
	ProgressToken json.RawMessage `json:"progressToken,omitempty"`
}

// normalizeEnvelope turns a raw request body into a typed envelope,
// unwrapping the bridge envelope when present. A missing payload becomes
// an empty one; strict mode defaults to on.
func normalizeEnvelope(raw []byte) (models.Envelope, error) {
	var wrapped bridgeBody
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Arguments != nil {
		return buildEnvelope(*wrapped.Arguments), nil
	}

	var body envelopeBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return models.Envelope{}, err
	}
	return buildEnvelope(body), nil
}

func buildEnvelope(body envelopeBody) models.Envelope {
	env := models.Envelope{
		Context:     body.Context,
		ReasoningMD: body.ReasoningMD,
		StrictMode:  true,
	}
	if body.Payload != nil {
		env.Payload = *body.Payload
	}
	if body.StrictMode != nil {
		env.StrictMode = *body.StrictMode
	}
	return env
}

// clarificationsBody is the clarification answers submission.
type clarificationsBody struct {
	Answers []models.ClarificationAnswer `json:"answers"`
}

// loginBody is the admin login submission.
type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// createKeyBody is the admin key-minting request.
type createKeyBody struct {
	Role        models.Role      `json:"role"`
	TenantID    string           `json:"tenant_id,omitempty"`
	DisplayName string           `json:"display_name,omitempty"`
	TTLSeconds  int              `json:"ttl_seconds,omitempty"`
	Limits      models.KeyLimits `json:"limits,omitempty"`
}

// tenantBody is the admin tenant upsert request.
type tenantBody struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	QuotaLimit int    `json:"quota_limit,omitempty"`
}

// quotaBody is the tenant quota update request.
type quotaBody struct {
	Limit int `json:"limit"`
}
