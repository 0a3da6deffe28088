package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"douly-backend/internal/models"
)

const (
	LeadArchiveQueue = "queue:lead-archive"
	maxRetries       = 3
	popTimeout       = 5 * time.Second
)

// LeadWriter is the durable store of archived leads.
type LeadWriter interface {
	Save(ctx context.Context, lead *models.Lead) error
}

type leadJob struct {
	Lead       models.Lead `json:"lead"`
	RetryCount int         `json:"retry_count"`
}

// LeadQueue hands leads to the worker pool. It satisfies the notifier's
// archive so the request path never waits on the database.
type LeadQueue struct {
	redis *redis.Client
}

func NewLeadQueue(redisClient *redis.Client) *LeadQueue {
	return &LeadQueue{redis: redisClient}
}

func (q *LeadQueue) Save(ctx context.Context, lead *models.Lead) error {
	return enqueue(ctx, q.redis, leadJob{Lead: *lead})
}

func enqueue(ctx context.Context, client *redis.Client, job leadJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling lead job: %w", err)
	}
	if err := client.LPush(ctx, LeadArchiveQueue, data).Err(); err != nil {
		return fmt.Errorf("queueing lead %s: %w", job.Lead.SessionID, err)
	}
	return nil
}

type Pool struct {
	redis       *redis.Client
	writer      LeadWriter
	workerCount int
	baseBackoff time.Duration
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewPool(redisClient *redis.Client, writer LeadWriter, workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{
		redis:       redisClient,
		writer:      writer,
		workerCount: workerCount,
		baseBackoff: time.Second,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	log.Printf("Started %d lead archive workers", p.workerCount)
}

// Stop signals the workers and waits for the in-flight jobs.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			log.Printf("Worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		result, err := p.redis.BLPop(ctx, popTimeout, LeadArchiveQueue).Result()
		if err != nil {
			continue // Timeout or error, retry
		}
		if len(result) < 2 {
			continue
		}

		var job leadJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Printf("Worker %d: failed to parse lead job: %v", id, err)
			continue
		}

		// One worker per session at a time.
		lockKey := fmt.Sprintf("job_lock:lead:%s", job.Lead.SessionID)
		locked, err := p.redis.SetNX(ctx, lockKey, "1", time.Minute).Result()
		if err != nil || !locked {
			p.requeue(job, p.baseBackoff)
			continue
		}

		if err := p.writer.Save(ctx, &job.Lead); err != nil {
			p.handleFailure(job, err)
		} else {
			log.Printf("Worker %d: archived lead for session %s", id, job.Lead.SessionID)
		}

		p.redis.Del(ctx, lockKey)
	}
}

func (p *Pool) handleFailure(job leadJob, err error) {
	job.RetryCount++

	if job.RetryCount < maxRetries {
		log.Printf("Lead %s archive failed (attempt %d): %v, retrying", job.Lead.SessionID, job.RetryCount, err)
		p.requeue(job, time.Duration(1<<uint(job.RetryCount))*p.baseBackoff)
		return
	}

	log.Printf("Lead %s archive failed permanently: %v", job.Lead.SessionID, err)
}

func (p *Pool) requeue(job leadJob, backoff time.Duration) {
	time.AfterFunc(backoff, func() {
		if err := enqueue(context.Background(), p.redis, job); err != nil {
			log.Printf("Lead %s requeue failed: %v", job.Lead.SessionID, err)
		}
	})
}
