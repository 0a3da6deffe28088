// Package conversation drives a chat session: one user turn at a time,
// from input to persisted reply and its side effects.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"douly-backend/internal/audio"
	"douly-backend/internal/markup"
	"douly-backend/internal/metrics"
	"douly-backend/internal/models"
	"douly-backend/internal/profile"
	"douly-backend/internal/services"
)

type State string

const (
	StateIdle     State = "IDLE"
	StateAwaiting State = "AWAITING_RESPONSE"
)

var (
	ErrEmptyInput      = errors.New("message is empty")
	ErrBusy            = errors.New("a reply is already pending")
	ErrSessionNotFound = errors.New("session not found")
	ErrUnknownPack     = errors.New("unknown pack")
)

// FallbackMessage is shown instead of a reply when the model call fails.
func FallbackMessage(contactPhone string) string {
	return fmt.Sprintf("Désolée, j'ai une petite perturbation. Contactez-nous au %s.", contactPhone)
}

type ModelClient interface {
	Send(ctx context.Context, history []models.ChatTurn, text string, images []models.Attachment, instruction string) (string, error)
}

type SpeechClient interface {
	Synthesize(ctx context.Context, text, voiceID string) *audio.Payload
}

type AudioPlayer interface {
	Play(ctx context.Context, sessionID string, payload *audio.Payload) bool
}

type Publisher interface {
	Publish(ctx context.Context, sessionID string, msg models.WSMessage)
}

type Trigger interface {
	ShouldFire(p models.Profile, score int, alreadySent bool) bool
	MaybeFire(ctx context.Context, sessionID string, p models.Profile, score int, history []models.ChatTurn, alreadySent bool) services.Decision
}

// Store is the durable side of a session.
type Store interface {
	Create(ctx context.Context, sessionID string) error
	Exists(ctx context.Context, sessionID string) (bool, error)
	Load(ctx context.Context, sessionID string) []models.ChatTurn
	Save(ctx context.Context, sessionID string, history []models.ChatTurn) error
	LoadProfile(ctx context.Context, sessionID string) (models.Profile, error)
	SaveProfileField(ctx context.Context, sessionID string, facet profile.Facet, value string) error
	ClaimNotification(ctx context.Context, sessionID string) (bool, error)
	ReleaseNotification(ctx context.Context, sessionID string) error
	NotificationSent(ctx context.Context, sessionID string) (bool, error)
	Clear(ctx context.Context, sessionID string) error
}

// Deps are the collaborators shared by every session. Speech and Player may
// be nil, in which case voice requests are ignored.
type Deps struct {
	Model        ModelClient
	Speech       SpeechClient
	Player       AudioPlayer
	Store        Store
	Notifier     Trigger
	Publisher    Publisher
	ContactPhone string
}

// Input is one user turn.
type Input struct {
	Text    string
	Images  []models.Attachment
	Voice   bool
	VoiceID string

	// Suggestion marks canned text that must not feed the profile extractor.
	Suggestion bool
}

// Result is what a settled turn produced.
type Result struct {
	Reply            models.ChatTurn
	Extra            []models.ChatTurn
	Profile          models.Profile
	Score            int
	NotificationSent bool
	Fallback         bool
}

// View is a point-in-time copy of a session.
type View struct {
	ID               string
	State            State
	Transcript       []models.ChatTurn
	Profile          models.Profile
	Score            int
	NotificationSent bool
}

type Session struct {
	id   string
	deps *Deps

	mu         sync.Mutex
	state      State
	history    []models.ChatTurn // full session view
	profile    models.Profile
	notified   bool
	lastActive time.Time
}

func newSession(id string, deps *Deps) *Session {
	return &Session{id: id, deps: deps, state: StateIdle, lastActive: time.Now()}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns the full session view, including turns that were never
// persisted.
func (s *Session) Transcript() []models.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatTurn(nil), s.history...)
}

// Audit is the diagnostic drawn from the visitor's turns so far.
func (s *Session) Audit() models.Audit {
	return services.BuildAudit(s.Transcript())
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		ID:               s.id,
		State:            s.state,
		Transcript:       append([]models.ChatTurn(nil), s.history...),
		Profile:          s.profile,
		Score:            profile.Score(s.profile),
		NotificationSent: s.notified,
	}
}

// Send runs one user turn to completion. A second call while a reply is
// pending returns ErrBusy without touching the history. Remote failures are
// not returned: they settle as a fallback turn.
func (s *Session) Send(ctx context.Context, in Input) (*Result, error) {
	text := strings.TrimSpace(in.Text)
	images := nonEmptyImages(in.Images)
	if text == "" && len(images) == 0 {
		metrics.TurnsTotal.WithLabelValues("empty").Inc()
		return nil, ErrEmptyInput
	}

	userTurn := models.ChatTurn{
		Role:        models.RoleUser,
		Text:        text,
		HTML:        markup.Escape(text),
		CreatedAt:   time.Now(),
		Attachments: images,
	}

	s.mu.Lock()
	if s.state == StateAwaiting {
		s.mu.Unlock()
		metrics.TurnsTotal.WithLabelValues("busy").Inc()
		return nil, ErrBusy
	}
	prior := append([]models.ChatTurn(nil), s.history...)
	s.history = append(s.history, userTurn)
	s.state = StateAwaiting
	s.lastActive = time.Now()
	known := s.profile
	alreadySent := s.notified
	s.mu.Unlock()
	defer s.settle()

	s.persist(ctx, append(prior, userTurn))
	s.publish(ctx, models.EventTurnAppended, models.NewTurnView(userTurn))
	s.publish(ctx, models.EventStateChanged, models.StateChange{SessionID: s.id, State: string(StateAwaiting)})

	current := known
	if !in.Suggestion {
		current = s.captureProfile(ctx, text, known)
	}
	score := profile.Score(current)

	instruction := services.BuildInstruction(current, s.deps.ContactPhone)
	reply, err := s.deps.Model.Send(ctx, prior, text, images, instruction)
	if err != nil {
		log.Printf("conversation: session %s: %v", s.id, err)
		metrics.TurnsTotal.WithLabelValues("fallback").Inc()

		fallback := newModelTurn(FallbackMessage(s.deps.ContactPhone))
		fallback.Transient = true
		s.append(ctx, fallback)
		return &Result{Reply: fallback, Profile: current, Score: score, NotificationSent: alreadySent, Fallback: true}, nil
	}

	modelTurn := newModelTurn(reply)
	s.persist(ctx, s.append(ctx, modelTurn))
	metrics.TurnsTotal.WithLabelValues("answered").Inc()

	result := &Result{Reply: modelTurn, Profile: current, Score: score, NotificationSent: alreadySent}

	extra, sent := s.notify(ctx, current, score, alreadySent)
	result.NotificationSent = sent
	if extra != nil {
		result.Extra = append(result.Extra, *extra)
	}

	if in.Voice && s.deps.Speech != nil && s.deps.Player != nil {
		s.deps.Player.Play(ctx, s.id, s.deps.Speech.Synthesize(ctx, reply, in.VoiceID))
	}

	return result, nil
}

// SendSuggestion asks about one of the DOULIA packs.
func (s *Session) SendSuggestion(ctx context.Context, packID int, voice bool, voiceID string) (*Result, error) {
	pack, ok := services.FindPack(packID)
	if !ok {
		return nil, ErrUnknownPack
	}
	return s.Send(ctx, Input{
		Text:       fmt.Sprintf("Parle-moi du pack %s", pack.Name),
		Voice:      voice,
		VoiceID:    voiceID,
		Suggestion: true,
	})
}

// captureProfile scans the text, stores the new facets and returns the
// merged profile.
func (s *Session) captureProfile(ctx context.Context, text string, known models.Profile) models.Profile {
	merged, changed := profile.Merge(known, profile.Scan(text, known))
	if len(changed) == 0 {
		return known
	}

	names := make([]string, len(changed))
	for i, facet := range changed {
		names[i] = string(facet)
		if err := s.deps.Store.SaveProfileField(ctx, s.id, facet, profile.Value(merged, facet)); err != nil {
			log.Printf("conversation: session %s: %v", s.id, err)
		}
	}

	s.mu.Lock()
	s.profile = merged
	s.mu.Unlock()

	s.publish(ctx, models.EventProfileUpdated, models.ProfileUpdate{
		Profile:         merged,
		CompletionScore: profile.Score(merged),
		Changed:         names,
	})
	return merged
}

// notify evaluates the trigger. The sent flag is claimed in the store
// before the sink is called and released when delivery fails, so the lead
// goes out at most once per session even across reloads.
func (s *Session) notify(ctx context.Context, p models.Profile, score int, alreadySent bool) (*models.ChatTurn, bool) {
	if s.deps.Notifier == nil || !s.deps.Notifier.ShouldFire(p, score, alreadySent) {
		return nil, alreadySent
	}

	claimed, err := s.deps.Store.ClaimNotification(ctx, s.id)
	if err != nil {
		log.Printf("conversation: session %s: %v", s.id, err)
		return nil, alreadySent
	}
	if !claimed {
		s.setNotified(true)
		return nil, true
	}

	decision := s.deps.Notifier.MaybeFire(ctx, s.id, p, score, s.Transcript(), false)
	if !decision.Sent {
		if err := s.deps.Store.ReleaseNotification(ctx, s.id); err != nil {
			log.Printf("conversation: session %s: %v", s.id, err)
		}
	}
	s.setNotified(decision.Sent)
	s.publish(ctx, models.EventNotification, models.NotificationEvent{Sent: decision.Sent})

	if decision.Turn == nil {
		return nil, decision.Sent
	}
	history := s.append(ctx, *decision.Turn)
	if !decision.Turn.Transient {
		s.persist(ctx, history)
	}
	return decision.Turn, decision.Sent
}

// append adds a turn to the session view and returns a copy of the history.
func (s *Session) append(ctx context.Context, turn models.ChatTurn) []models.ChatTurn {
	s.mu.Lock()
	s.history = append(s.history, turn)
	history := append([]models.ChatTurn(nil), s.history...)
	s.mu.Unlock()

	s.publish(ctx, models.EventTurnAppended, models.NewTurnView(turn))
	return history
}

func (s *Session) persist(ctx context.Context, history []models.ChatTurn) {
	if err := s.deps.Store.Save(ctx, s.id, history); err != nil {
		log.Printf("conversation: session %s: %v", s.id, err)
	}
}

func (s *Session) settle() {
	s.mu.Lock()
	s.state = StateIdle
	s.lastActive = time.Now()
	s.mu.Unlock()
	s.publish(context.Background(), models.EventStateChanged, models.StateChange{SessionID: s.id, State: string(StateIdle)})
}

func (s *Session) setNotified(v bool) {
	s.mu.Lock()
	s.notified = v
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive), s.state == StateIdle
}

func (s *Session) publish(ctx context.Context, eventType string, payload interface{}) {
	if s.deps.Publisher == nil {
		return
	}
	s.deps.Publisher.Publish(ctx, s.id, models.WSMessage{Type: eventType, Payload: payload})
}

func newModelTurn(text string) models.ChatTurn {
	return models.ChatTurn{
		Role:      models.RoleModel,
		Text:      text,
		HTML:      markup.Format(text),
		CreatedAt: time.Now(),
	}
}

func nonEmptyImages(images []models.Attachment) []models.Attachment {
	var out []models.Attachment
	for _, img := range images {
		if len(img.Data) > 0 {
			out = append(out, img)
		}
	}
	return out
}
