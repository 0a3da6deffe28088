package conversation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"douly-backend/internal/markup"
	"douly-backend/internal/metrics"
	"douly-backend/internal/models"
)

const evictionInterval = 5 * time.Minute

// Manager owns the sessions held in memory. A session evicted from memory
// is restored from the store on its next request.
type Manager struct {
	deps        *Deps
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session

	stopChan chan struct{}
	stopOnce sync.Once
}

func NewManager(deps Deps, idleTimeout time.Duration) *Manager {
	return &Manager{
		deps:        &deps,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*Session),
		stopChan:    make(chan struct{}),
	}
}

// Create registers a fresh session and greets the visitor.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	id := uuid.NewString()
	if err := m.deps.Store.Create(ctx, id); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s := newSession(id, m.deps)
	s.history = []models.ChatTurn{greeting(models.Profile{})}
	m.add(s)
	return s, nil
}

// Get returns the live session, restoring it from the store if needed.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return s, nil
	}
	return m.Restore(ctx, id)
}

// Restore rebuilds a session from the persisted tail and profile. Display
// markup is recomputed since only raw text is stored.
func (m *Manager) Restore(ctx context.Context, id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSessionNotFound
	}
	exists, err := m.deps.Store.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrSessionNotFound
	}

	s := newSession(id, m.deps)

	p, err := m.deps.Store.LoadProfile(ctx, id)
	if err != nil {
		log.Printf("conversation: restoring profile of %s: %v", id, err)
	}
	s.profile = p

	if s.notified, err = m.deps.Store.NotificationSent(ctx, id); err != nil {
		log.Printf("conversation: restoring notification flag of %s: %v", id, err)
	}

	for _, turn := range m.deps.Store.Load(ctx, id) {
		if turn.Role == models.RoleUser {
			turn.HTML = markup.Escape(turn.Text)
		} else {
			turn.HTML = markup.Format(turn.Text)
		}
		s.history = append(s.history, turn)
	}
	if len(s.history) == 0 {
		s.history = []models.ChatTurn{greeting(p)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another request may have restored it meanwhile.
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	m.sessions[id] = s
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return s, nil
}

// Clear forgets the session in memory and in the store.
func (m *Manager) Clear(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	if err := m.deps.Store.Clear(ctx, id); err != nil {
		return fmt.Errorf("clearing session %s: %w", id, err)
	}
	return nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) Start() {
	if m.idleTimeout <= 0 {
		return
	}
	go m.loop()
	log.Printf("Session eviction started (idle timeout %s)", m.idleTimeout)
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

func (m *Manager) loop() {
	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case now := <-ticker.C:
			if n := m.EvictIdle(now); n > 0 {
				log.Printf("Evicted %d idle sessions", n)
			}
		}
	}
}

// EvictIdle drops idle sessions untouched for longer than the idle timeout.
// Sessions awaiting a reply are kept.
func (m *Manager) EvictIdle(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, s := range m.sessions {
		idle, settled := s.idleSince(now)
		if settled && idle > m.idleTimeout {
			delete(m.sessions, id)
			evicted++
		}
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return evicted
}

func (m *Manager) add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.id] = s
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
}

// greeting is the opening turn shown on an empty history. It is never
// persisted.
func greeting(p models.Profile) models.ChatTurn {
	text := "Bonjour ! Je suis **Douly**, votre consultante stratégique chez **DOULIA**. Comment puis-je vous appeler ?"
	if p.FullName != "" {
		text = fmt.Sprintf("Ravi de vous revoir, **%s** ! En quoi **DOULIA** peut-elle vous aider aujourd'hui ?", p.FullName)
	}
	turn := newModelTurn(text)
	turn.Transient = true
	return turn
}
