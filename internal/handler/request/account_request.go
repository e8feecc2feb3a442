package request

import "encoding/json"

type AccountURI struct {
	ID string `uri:"id" binding:"required,uuid"`
}

// SubmitMessageRequest is a queue envelope posted by an upstream service.
type SubmitMessageRequest struct {
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload" binding:"required"`
}

type ObjectURI struct {
	RecoveryID string `uri:"recovery_id" binding:"required,scalar"`
}
