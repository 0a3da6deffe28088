package models

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Attachment is an inline image sent along with a user turn.
type Attachment struct {
	MIMEType string `json:"mime_type" validate:"oneof=image/png image/jpeg image/webp image/gif"`
	Data     []byte `json:"data" validate:"max=4194304"` // base64 on the wire
}

// ChatTurn is one message of a conversation. Text is the raw form (what the
// model produced or the user typed), HTML is the display form.
// Turns are never edited once appended. Transient turns (greeting, fallback,
// apology) are shown but never persisted nor sent to the model.
type ChatTurn struct {
	Role        Role         `json:"role"`
	Text        string       `json:"text"`
	HTML        string       `json:"html"`
	CreatedAt   time.Time    `json:"created_at"`
	Attachments []Attachment `json:"-"`
	Transient   bool         `json:"-"`
}

// Profile holds the contact facets captured from the visitor.
type Profile struct {
	FullName string `json:"full_name,omitempty"`
	Company  string `json:"company,omitempty"`
	Email    string `json:"email,omitempty"`
}

// ChatRequest is the payload sent to the message endpoint.
type ChatRequest struct {
	Text    string       `json:"text" validate:"max=4000"`
	Images  []Attachment `json:"images" validate:"max=4,dive"`
	Voice   bool         `json:"voice"`
	VoiceID string       `json:"voice_id" validate:"omitempty,max=32"`
}

// TurnView is the display projection of a ChatTurn.
type TurnView struct {
	Role            Role      `json:"role"`
	HTML            string    `json:"html"`
	CreatedAt       time.Time `json:"created_at"`
	AttachmentCount int       `json:"attachment_count,omitempty"`
}

// ChatResponse is returned once a turn settles.
type ChatResponse struct {
	Reply            TurnView   `json:"reply"`
	Extra            []TurnView `json:"extra,omitempty"`
	Profile          Profile    `json:"profile"`
	CompletionScore  int        `json:"completion_score"`
	NotificationSent bool       `json:"notification_sent"`
	Fallback         bool       `json:"fallback,omitempty"`
}

type SessionResponse struct {
	SessionID       string     `json:"session_id"`
	Token           string     `json:"token,omitempty"`
	State           string     `json:"state"`
	Transcript      []TurnView `json:"transcript"`
	Profile         Profile    `json:"profile"`
	CompletionScore int        `json:"completion_score"`
}

// Pack is one of the DOULIA service offers shown as conversation starters.
type Pack struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

func NewTurnView(t ChatTurn) TurnView {
	return TurnView{
		Role:            t.Role,
		HTML:            t.HTML,
		CreatedAt:       t.CreatedAt,
		AttachmentCount: len(t.Attachments),
	}
}

// Audit is the strategic diagnostic drawn from a conversation. Fields stay
// empty until the visitor has said enough.
type Audit struct {
	Sector         string   `json:"sector,omitempty"`
	Size           string   `json:"size,omitempty"`
	Pains          []string `json:"pains"`
	Recommendation string   `json:"recommendation,omitempty"`
	PotentialROI   string   `json:"potential_roi,omitempty"`
}
