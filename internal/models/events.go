package models

import "time"

// WebSocket message types
const (
	EventStateChanged   = "state_changed"
	EventTurnAppended   = "turn_appended"
	EventProfileUpdated = "profile_updated"
	EventAudioReady     = "audio_ready"
	EventNotification   = "notification"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type StateChange struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

type ProfileUpdate struct {
	Profile         Profile  `json:"profile"`
	CompletionScore int      `json:"completion_score"`
	Changed         []string `json:"changed"`
}

type AudioReady struct {
	AudioBase64 string  `json:"audio_base64"`
	MIMEType    string  `json:"mime_type"`
	SampleRate  int     `json:"sample_rate"`
	Channels    int     `json:"channels"`
	DurationMs  int64   `json:"duration_ms"`
	Peak        float32 `json:"peak"`
}

type NotificationEvent struct {
	Sent bool `json:"sent"`
}

// Lead is the archived record of a session whose notification went out.
type Lead struct {
	SessionID  string    `json:"session_id"`
	FullName   string    `json:"full_name"`
	Company    string    `json:"company"`
	Email      string    `json:"email"`
	Sector     string    `json:"sector"`
	Score      int       `json:"score"`
	Transcript string    `json:"transcript"`
	NotifiedAt time.Time `json:"notified_at"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
