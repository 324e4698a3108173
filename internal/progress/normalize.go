package progress

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/journi/jobwatch/internal/models"
)

// timestampLayout matches what browsers produce for Date.toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type frameKind int

const (
	frameStatus frameKind = iota
	framePing
	framePong
)

// wirePayload is the union of the socket status frame and the poll body.
type wirePayload struct {
	Type         string           `json:"type"`
	JobID        string           `json:"job_id"`
	ID           string           `json:"id"`
	Status       models.JobStatus `json:"status"`
	Progress     *wireProgress    `json:"progress"`
	Result       json.RawMessage  `json:"result"`
	Error        string           `json:"error"`
	ErrorMessage string           `json:"error_message"`
	Timestamp    string           `json:"timestamp"`
}

// wireProgress decodes step counters as floats; some producers emit 3.0.
type wireProgress struct {
	CurrentStep               float64  `json:"current_step"`
	TotalSteps                float64  `json:"total_steps"`
	StepName                  string   `json:"step_name"`
	Message                   string   `json:"message"`
	Percentage                float64  `json:"percentage"`
	EstimatedRemainingSeconds *float64 `json:"estimated_remaining_seconds"`
	EstimatedTimeRemaining    *float64 `json:"estimatedTimeRemaining"`
}

// classifyFrame sorts a socket frame into heartbeat or status traffic.
// Status frames are returned decoded.
func classifyFrame(data []byte) (frameKind, *wirePayload, error) {
	trimmed := bytes.TrimSpace(data)
	switch string(trimmed) {
	case "pong", `"pong"`:
		return framePong, nil, nil
	case "ping", `"ping"`:
		return framePing, nil, nil
	}

	var p wirePayload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return 0, nil, &ProtocolError{Reason: reasonMalformed, Err: err}
	}
	switch p.Type {
	case "pong":
		return framePong, nil, nil
	case "ping":
		return framePing, nil, nil
	}
	return frameStatus, &p, nil
}

// decodePollBody decodes a GET /api/journey/status response.
func decodePollBody(data []byte) (*wirePayload, error) {
	var p wirePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &ProtocolError{Reason: reasonMalformed, Err: err}
	}
	return &p, nil
}

// normalize turns either payload shape into the canonical message for
// jobID. Payloads naming another job are rejected. Status values are
// checked for presence only; unknown values pass through.
func normalize(p *wirePayload, jobID string, now time.Time) (models.ProgressMessage, error) {
	source := p.JobID
	if source == "" {
		source = p.ID
	}
	if source != "" && source != jobID {
		return models.ProgressMessage{}, &ProtocolError{Reason: reasonJobMismatch}
	}
	if p.Status == "" {
		return models.ProgressMessage{}, &ProtocolError{Reason: reasonNoStatus}
	}

	msg := models.ProgressMessage{
		JobID:     jobID,
		Status:    p.Status,
		Error:     p.Error,
		Timestamp: p.Timestamp,
	}
	if msg.Error == "" {
		msg.Error = p.ErrorMessage
	}
	if msg.Timestamp == "" {
		msg.Timestamp = now.UTC().Format(timestampLayout)
	}
	if len(p.Result) > 0 && !bytes.Equal(bytes.TrimSpace(p.Result), []byte("null")) {
		msg.Result = p.Result
	}
	if p.Progress != nil {
		remaining := p.Progress.EstimatedRemainingSeconds
		if remaining == nil {
			remaining = p.Progress.EstimatedTimeRemaining
		}
		msg.Progress = &models.ProgressDetail{
			CurrentStep:               int(p.Progress.CurrentStep),
			TotalSteps:                int(p.Progress.TotalSteps),
			StepName:                  p.Progress.StepName,
			Message:                   p.Progress.Message,
			Percentage:                p.Progress.Percentage,
			EstimatedRemainingSeconds: remaining,
		}
	}
	return msg, nil
}

// contentKey identifies a message by everything except its timestamp so
// repeated poll bodies for one server-side update collapse to one message.
func contentKey(msg models.ProgressMessage) string {
	key, _ := json.Marshal(struct {
		Status   models.JobStatus
		Progress *models.ProgressDetail
		Result   json.RawMessage
		Error    string
	}{msg.Status, msg.Progress, msg.Result, msg.Error})
	return string(key)
}

// errorDetail extracts the message of a {"detail": ...} error body. Bodies
// in any other shape yield "".
func errorDetail(data []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(data, &body) != nil || len(body.Detail) == 0 {
		return ""
	}
	var text string
	if json.Unmarshal(body.Detail, &text) == nil {
		return text
	}
	return string(body.Detail)
}
