package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"douly-backend/internal/audio"
	"douly-backend/internal/models"
	"douly-backend/internal/profile"
	"douly-backend/internal/repository"
	"douly-backend/internal/services"
)

const testPhone = "6 56 30 48 18"

type stubModel struct {
	mu        sync.Mutex
	texts     []string
	histories [][]models.ChatTurn
	reply     string
	err       error
	started   chan struct{}
	release   chan struct{}
}

func (m *stubModel) Send(ctx context.Context, history []models.ChatTurn, text string, images []models.Attachment, instruction string) (string, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.histories = append(m.histories, history)
	m.mu.Unlock()

	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.release != nil {
		<-m.release
	}
	return m.reply, m.err
}

func (m *stubModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.texts)
}

type stubSink struct {
	mu    sync.Mutex
	calls []services.LeadNotification
	err   error
}

func (s *stubSink) SendLeadNotification(ctx context.Context, n services.LeadNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, n)
	return s.err
}

func (s *stubSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type stubSpeech struct {
	texts []string
}

func (s *stubSpeech) Synthesize(ctx context.Context, text, voiceID string) *audio.Payload {
	s.texts = append(s.texts, text)
	return &audio.Payload{Base64: "AAAA"}
}

type stubPlayer struct {
	played []*audio.Payload
}

func (p *stubPlayer) Play(ctx context.Context, sessionID string, payload *audio.Payload) bool {
	p.played = append(p.played, payload)
	return payload != nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingPublisher) Publish(ctx context.Context, sessionID string, msg models.WSMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, msg.Type)
}

type fixture struct {
	manager *Manager
	store   *repository.SessionStore
	model   *stubModel
	sink    *stubSink
	pub     *recordingPublisher
	deps    Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &fixture{
		store: repository.NewSessionStore(client, repository.DefaultHistoryLimit, time.Hour),
		model: &stubModel{reply: "Avec plaisir, **parlons** de votre projet."},
		sink:  &stubSink{},
		pub:   &recordingPublisher{},
	}
	f.deps = Deps{
		Model:        f.model,
		Store:        f.store,
		Notifier:     services.NewNotifier(f.sink, nil, "admin@doulia.ai", 60, testPhone),
		Publisher:    f.pub,
		ContactPhone: testPhone,
	}
	f.manager = NewManager(f.deps, time.Hour)
	return f
}

func userTurns(turns []models.ChatTurn) []models.ChatTurn {
	var out []models.ChatTurn
	for _, t := range turns {
		if t.Role == models.RoleUser {
			out = append(out, t)
		}
	}
	return out
}

func TestSession_CreateGreets(t *testing.T) {
	f := newFixture(t)
	s, err := f.manager.Create(context.Background())
	require.NoError(t, err)

	transcript := s.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, models.RoleModel, transcript[0].Role)
	assert.True(t, transcript[0].Transient)
	assert.Contains(t, transcript[0].HTML, "Douly")
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, f.store.Load(context.Background(), s.ID()))
}

func TestSession_AnswersAndPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.manager.Create(ctx)
	require.NoError(t, err)

	res, err := s.Send(ctx, Input{Text: "  Bonjour, je cherche un chatbot  "})
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Contains(t, res.Reply.HTML, "<strong")
	assert.Equal(t, "Avec plaisir, **parlons** de votre projet.", res.Reply.Text)

	// The model sees the history before the new user turn.
	require.Equal(t, 1, f.model.calls())
	assert.Equal(t, "Bonjour, je cherche un chatbot", f.model.texts[0])
	assert.Empty(t, userTurns(f.model.histories[0]))

	stored := f.store.Load(ctx, s.ID())
	require.Len(t, stored, 2)
	assert.Equal(t, models.RoleUser, stored[0].Role)
	assert.Equal(t, models.RoleModel, stored[1].Role)
	assert.Equal(t, StateIdle, s.State())
	assert.Contains(t, f.pub.events, models.EventTurnAppended)
	assert.Contains(t, f.pub.events, models.EventStateChanged)
}

func TestSession_FallbackOnRemoteFailure(t *testing.T) {
	f := newFixture(t)
	f.model.err = services.ErrRemoteUnavailable
	ctx := context.Background()
	s, err := f.manager.Create(ctx)
	require.NoError(t, err)

	res, err := s.Send(ctx, Input{Text: "Quels sont vos tarifs ?"})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, models.RoleModel, res.Reply.Role)
	assert.Equal(t, FallbackMessage(testPhone), res.Reply.Text)

	transcript := s.Transcript()
	require.Len(t, transcript, 3)
	assert.Equal(t, "Quels sont vos tarifs ?", transcript[1].Text)
	assert.Equal(t, models.RoleUser, transcript[1].Role)
	assert.Equal(t, FallbackMessage(testPhone), transcript[2].Text)

	// The user turn is kept, the non-answer is not persisted.
	stored := f.store.Load(ctx, s.ID())
	require.Len(t, stored, 1)
	assert.Equal(t, "Quels sont vos tarifs ?", stored[0].Text)
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_RejectsEmptyInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.manager.Create(ctx)
	require.NoError(t, err)

	_, err = s.Send(ctx, Input{Text: "   ", Images: []models.Attachment{{MIMEType: "image/png"}}})
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Len(t, s.Transcript(), 1)
	assert.Equal(t, 0, f.model.calls())

	_, err = s.Send(ctx, Input{Images: []models.Attachment{{MIMEType: "image/png", Data: []byte{1}}}})
	assert.NoError(t, err, "an image alone is a valid turn")
}

func TestSession_BusyGate(t *testing.T) {
	f := newFixture(t)
	f.model.started = make(chan struct{}, 1)
	f.model.release = make(chan struct{})
	ctx := context.Background()
	s, err := f.manager.Create(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Send(ctx, Input{Text: "Premier message"})
		done <- err
	}()

	select {
	case <-f.model.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first send never reached the model")
	}
	assert.Equal(t, StateAwaiting, s.State())

	_, err = s.Send(ctx, Input{Text: "Second message"})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Len(t, userTurns(s.Transcript()), 1)

	close(f.model.release)
	require.NoError(t, <-done)

	assert.Equal(t, 1, f.model.calls())
	assert.Equal(t, StateIdle, s.State())
	assert.Len(t, userTurns(s.Transcript()), 1)
}

func TestSession_ProfileCompletionScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.manager.Create(ctx)
	require.NoError(t, err)

	steps := []struct {
		text  string
		score int
	}{
		{"Jean Dupont", 33},
		{"Acme Industries", 66},
		{"Écrivez-moi à jean@acme.com", 100},
	}

	prev := 0
	for _, step := range steps {
		res, err := s.Send(ctx, Input{Text: step.text})
		require.NoError(t, err)
		assert.Equal(t, step.score, res.Score, "after %q", step.text)
		assert.LessOrEqual(t, res.Score, 100)
		assert.Greater(t, res.Score, prev)
		prev = res.Score
	}

	p, err := f.store.LoadProfile(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, models.Profile{FullName: "Jean Dupont", Company: "Acme Industries", Email: "jean@acme.com"}, p)

	// The email completed the profile and fired the notification.
	assert.Equal(t, 1, f.sink.count())
	assert.Contains(t, f.pub.events, models.EventProfileUpdated)
	assert.Contains(t, f.pub.events, models.EventNotification)
}

func seedCompleteProfile(t *testing.T, f *fixture, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, id))
	require.NoError(t, f.store.SaveProfileField(ctx, id, profile.FacetName, "Jean"))
	require.NoError(t, f.store.SaveProfileField(ctx, id, profile.FacetCompany, "Acme"))
	require.NoError(t, f.store.SaveProfileField(ctx, id, profile.FacetEmail, "jean@acme.com"))
}

func TestSession_NotificationFiresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := "4b8c3f5e-1f7a-4c8e-9a51-2f1f0d7c6b11"
	seedCompleteProfile(t, f, id)

	s, err := f.manager.Get(ctx, id)
	require.NoError(t, err)

	first, err := s.Send(ctx, Input{Text: "Je veux un devis"})
	require.NoError(t, err)
	assert.True(t, first.NotificationSent)
	require.Len(t, first.Extra, 1)
	assert.Contains(t, first.Extra[0].Text, "jean@acme.com")

	second, err := s.Send(ctx, Input{Text: "Merci"})
	require.NoError(t, err)
	assert.True(t, second.NotificationSent)
	assert.Empty(t, second.Extra)

	assert.Equal(t, 1, f.sink.count())

	// A reload restores the sent flag.
	reloaded := NewManager(f.deps, time.Hour)
	s2, err := reloaded.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, s2.View().NotificationSent)
	_, err = s2.Send(ctx, Input{Text: "Encore une question"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.sink.count())
}

func TestSession_NotificationRetriesAfterSinkFailure(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("smtp down")
	ctx := context.Background()
	id := "0d6f2a1c-8e3b-4f59-b7d2-6a9c1e4f3b20"
	seedCompleteProfile(t, f, id)

	s, err := f.manager.Get(ctx, id)
	require.NoError(t, err)

	res, err := s.Send(ctx, Input{Text: "Je veux un devis"})
	require.NoError(t, err)
	assert.False(t, res.NotificationSent)
	require.Len(t, res.Extra, 1)
	assert.Contains(t, res.Extra[0].Text, testPhone)

	sent, err := f.store.NotificationSent(ctx, id)
	require.NoError(t, err)
	assert.False(t, sent, "failed delivery must release the claim")

	f.sink.err = nil
	res, err = s.Send(ctx, Input{Text: "Vous pouvez réessayer ?"})
	require.NoError(t, err)
	assert.True(t, res.NotificationSent)
	assert.Equal(t, 2, f.sink.count())
}

func TestManager_RestoresPersistedTail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := "9a7e1b2c-3d4f-4a5b-8c6d-7e8f9a0b1c2d"
	require.NoError(t, f.store.Create(ctx, id))

	var history []models.ChatTurn
	for i := 0; i < 25; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleModel
		}
		history = append(history, models.ChatTurn{Role: role, Text: fmt.Sprintf("**turn** %d", i)})
	}
	require.NoError(t, f.store.Save(ctx, id, history))
	require.NoError(t, f.store.SaveProfileField(ctx, id, profile.FacetName, "Jean"))

	s, err := f.manager.Get(ctx, id)
	require.NoError(t, err)

	transcript := s.Transcript()
	require.Len(t, transcript, 20)
	assert.Equal(t, "**turn** 5", transcript[0].Text)
	assert.Equal(t, "**turn** 24", transcript[19].Text)
	// Model text is formatted, user text is only escaped.
	assert.Equal(t, models.RoleModel, transcript[0].Role)
	assert.Contains(t, transcript[0].HTML, "<strong")
	assert.Equal(t, models.RoleUser, transcript[1].Role)
	assert.Equal(t, "**turn** 6", transcript[1].HTML)

	view := s.View()
	assert.Equal(t, "Jean", view.Profile.FullName)
	assert.Equal(t, 33, view.Score)

	again, err := f.manager.Get(ctx, id)
	require.NoError(t, err)
	assert.Same(t, s, again)
}

func TestManager_RestoreGreetsKnownVisitor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := "1c2d3e4f-5a6b-4c7d-8e9f-0a1b2c3d4e5f"
	require.NoError(t, f.store.Create(ctx, id))
	require.NoError(t, f.store.SaveProfileField(ctx, id, profile.FacetName, "Awa"))

	s, err := f.manager.Get(ctx, id)
	require.NoError(t, err)
	transcript := s.Transcript()
	require.Len(t, transcript, 1)
	assert.Contains(t, transcript[0].HTML, "Ravi de vous revoir")
	assert.Contains(t, transcript[0].HTML, "Awa")
}

func TestManager_UnknownSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.manager.Get(ctx, "7f3e2d1c-0b9a-4876-9543-210fedcba987")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_ClearAndEvict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.manager.Create(ctx)
	require.NoError(t, err)
	_, err = f.manager.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.manager.Len())

	require.NoError(t, f.manager.Clear(ctx, a.ID()))
	assert.Equal(t, 1, f.manager.Len())
	_, err = f.manager.Get(ctx, a.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.Equal(t, 0, f.manager.EvictIdle(time.Now()))
	assert.Equal(t, 1, f.manager.EvictIdle(time.Now().Add(2*time.Hour)))
	assert.Equal(t, 0, f.manager.Len())
}

func TestSession_SendSuggestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.manager.Create(ctx)
	require.NoError(t, err)

	_, err = s.SendSuggestion(ctx, 2, false, "")
	require.NoError(t, err)
	require.Equal(t, 1, f.model.calls())
	assert.Equal(t, "Parle-moi du pack DOULIA Process", f.model.texts[0])
	assert.Empty(t, s.View().Profile, "suggestions never feed the profile")

	_, err = s.SendSuggestion(ctx, 99, false, "")
	assert.ErrorIs(t, err, ErrUnknownPack)
}

func TestSession_VoiceUsesRawReply(t *testing.T) {
	f := newFixture(t)
	speech := &stubSpeech{}
	player := &stubPlayer{}
	f.deps.Speech = speech
	f.deps.Player = player
	f.manager = NewManager(f.deps, time.Hour)

	ctx := context.Background()
	s, err := f.manager.Create(ctx)
	require.NoError(t, err)

	_, err = s.Send(ctx, Input{Text: "Bonjour", Voice: true, VoiceID: "Puck"})
	require.NoError(t, err)
	require.Len(t, speech.texts, 1)
	assert.Equal(t, f.model.reply, speech.texts[0])
	assert.Len(t, player.played, 1)

	_, err = s.Send(ctx, Input{Text: "Sans voix"})
	require.NoError(t, err)
	assert.Len(t, speech.texts, 1)
}
