package audio

import (
	"context"
	"log"
	"sync"

	"douly-backend/internal/models"
)

// Publisher delivers an event to the listeners of one session.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, msg models.WSMessage)
}

// Player is the audio subsystem handle owned by the conversation layer.
// It does nothing until Start is called and after Stop.
type Player struct {
	mu      sync.RWMutex
	running bool
	pub     Publisher
}

func NewPlayer(pub Publisher) *Player {
	return &Player{pub: pub}
}

func (p *Player) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
}

func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
}

func (p *Player) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Play decodes the payload and streams it to the session. It reports whether
// a unit was delivered.
func (p *Player) Play(ctx context.Context, sessionID string, payload *Payload) bool {
	if payload == nil || !p.Running() {
		return false
	}

	unit, err := Decode(payload.Base64)
	if err != nil {
		log.Printf("audio: dropping undecodable payload for session %s: %v", sessionID, err)
		return false
	}

	mime := payload.MIMEType
	if mime == "" {
		mime = MIMEType
	}

	p.pub.Publish(ctx, sessionID, models.WSMessage{
		Type: models.EventAudioReady,
		Payload: models.AudioReady{
			AudioBase64: payload.Base64,
			MIMEType:    mime,
			SampleRate:  unit.SampleRate,
			Channels:    unit.Channels,
			DurationMs:  unit.Duration().Milliseconds(),
			Peak:        unit.Peak(),
		},
	})
	return true
}
