package progress

import "time"

// EnvelopeVersion is stamped on every outbound message.
const EnvelopeVersion = "1.0.0"

// MessageType classifies outbound messages.
type MessageType string

const (
	MessageProgress MessageType = "progress"
	MessageComplete MessageType = "complete"
	MessageError    MessageType = "error"
	MessageReadyAck MessageType = "ready_ack"
)

// Envelope is the wire shape of every outbound message.
type Envelope struct {
	Pipeline  Pipeline    `json:"pipeline"`
	Version   string      `json:"version"`
	JobID     string      `json:"jobId"`
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
	Payload   any         `json:"payload"`
}

func newEnvelope(pipeline Pipeline, jobID string, t MessageType, payload any, now time.Time) Envelope {
	return Envelope{
		Pipeline:  pipeline,
		Version:   EnvelopeVersion,
		JobID:     jobID,
		Type:      t,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
}

// NewEnvelope stamps an outbound message for callers sending through
// Actor.Send.
func NewEnvelope(pipeline Pipeline, jobID string, t MessageType, payload any) Envelope {
	return newEnvelope(pipeline, jobID, t, payload, time.Now())
}

// ProgressUpdate is the payload of a progress message.
type ProgressUpdate struct {
	Progress       float64        `json:"progress"`
	ProcessedCount int            `json:"processedCount"`
	TotalCount     int            `json:"totalCount"`
	Message        string         `json:"message,omitempty"`
	Extra          map[string]any `json:"-"`
}

// wirePayload flattens Extra into the serialized payload.
func (u ProgressUpdate) wirePayload() map[string]any {
	payload := map[string]any{
		"progress":       u.Progress,
		"processedCount": u.ProcessedCount,
		"totalCount":     u.TotalCount,
	}
	if u.Message != "" {
		payload["message"] = u.Message
	}
	for k, v := range u.Extra {
		payload[k] = v
	}
	return payload
}

// ErrorPayload is the payload of a terminal error message.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
}
