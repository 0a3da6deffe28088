package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"douly-backend/internal/models"
)

type stubWriter struct {
	mu       sync.Mutex
	failures int
	attempts int
	saved    []models.Lead
}

func (w *stubWriter) Save(ctx context.Context, lead *models.Lead) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts++
	if w.failures > 0 {
		w.failures--
		return errors.New("database unavailable")
	}
	w.saved = append(w.saved, *lead)
	return nil
}

func (w *stubWriter) snapshot() (int, []models.Lead) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempts, append([]models.Lead(nil), w.saved...)
}

func setupPool(t *testing.T, writer LeadWriter) (*LeadQueue, *Pool) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	pool := NewPool(client, writer, 1)
	pool.baseBackoff = 10 * time.Millisecond
	return NewLeadQueue(client), pool
}

func TestPool_ArchivesQueuedLead(t *testing.T) {
	writer := &stubWriter{}
	queue, pool := setupPool(t, writer)

	lead := &models.Lead{SessionID: "s1", FullName: "Jean", Email: "jean@acme.com", Score: 100}
	require.NoError(t, queue.Save(context.Background(), lead))

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		_, saved := writer.snapshot()
		return len(saved) == 1
	}, 3*time.Second, 10*time.Millisecond)

	_, saved := writer.snapshot()
	assert.Equal(t, "jean@acme.com", saved[0].Email)
}

func TestPool_RetriesFailedWrites(t *testing.T) {
	writer := &stubWriter{failures: 2}
	queue, pool := setupPool(t, writer)

	require.NoError(t, queue.Save(context.Background(), &models.Lead{SessionID: "s1", Email: "a@b.co"}))
	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		_, saved := writer.snapshot()
		return len(saved) == 1
	}, 5*time.Second, 10*time.Millisecond)

	attempts, _ := writer.snapshot()
	assert.Equal(t, 3, attempts)
}

func TestPool_GivesUpAfterMaxRetries(t *testing.T) {
	writer := &stubWriter{failures: 10}
	queue, pool := setupPool(t, writer)

	require.NoError(t, queue.Save(context.Background(), &models.Lead{SessionID: "s1", Email: "a@b.co"}))
	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		attempts, _ := writer.snapshot()
		return attempts == maxRetries
	}, 5*time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	attempts, saved := writer.snapshot()
	assert.Equal(t, maxRetries, attempts)
	assert.Empty(t, saved)
}
