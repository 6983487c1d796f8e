package usecase

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"kyra-backend/internal/email/repository"
	"kyra-backend/internal/enrichment"
	"kyra-backend/pkg/monitoring"
)

// EmbeddingJob is one email waiting for its vector
type EmbeddingJob struct {
	UserID  string
	EmailID string
	Subject string
	Body    string
}

// Text is what gets embedded for the job
func (j EmbeddingJob) Text() string {
	return fmt.Sprintf("Subject: %s\n\n%s", j.Subject, enrichment.Truncate(j.Body, 8000))
}

// EmbeddingWorkerService computes email embeddings in the background
type EmbeddingWorkerService struct {
	enricher    Enricher
	emailRepo   repository.EmailRepository
	stores      []EmbeddingStore
	metrics     *monitoring.Metrics
	log         *zap.Logger
	jobQueue    chan EmbeddingJob
	workerWg    sync.WaitGroup
	workerCount int
	started     bool
	mu          sync.Mutex
}

// NewEmbeddingWorkerService creates the worker pool. Every vector is written to each store.
func NewEmbeddingWorkerService(
	enricher Enricher,
	emailRepo repository.EmailRepository,
	stores []EmbeddingStore,
	workerCount int,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *EmbeddingWorkerService {
	if workerCount <= 0 {
		workerCount = 3 // Default to 3 workers
	}
	return &EmbeddingWorkerService{
		enricher:    enricher,
		emailRepo:   emailRepo,
		stores:      stores,
		metrics:     metrics,
		log:         log.Named("embedding_worker"),
		jobQueue:    make(chan EmbeddingJob, 500), // Buffered channel
		workerCount: workerCount,
	}
}

// Start starts the workers; they stop when ctx is done or Stop is called
func (s *EmbeddingWorkerService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	for i := 0; i < s.workerCount; i++ {
		s.workerWg.Add(1)
		go s.worker(ctx, i)
	}
	s.started = true
	s.log.Info("workers started", zap.Int("count", s.workerCount))
}

// Stop drains the queue and waits for the workers
func (s *EmbeddingWorkerService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	close(s.jobQueue)
	s.workerWg.Wait()
	s.started = false
	s.log.Info("all workers stopped")
}

func (s *EmbeddingWorkerService) worker(ctx context.Context, id int) {
	defer s.workerWg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-s.jobQueue:
			if !ok {
				s.log.Debug("worker stopped", zap.Int("worker", id))
				return
			}
			s.processJob(ctx, job)
		}
	}
}

func (s *EmbeddingWorkerService) processJob(ctx context.Context, job EmbeddingJob) {
	vec, ok := s.enricher.Embed(ctx, job.Text())
	if !ok {
		// Left NULL; the next backfill picks it up
		return
	}
	if err := s.emailRepo.SetEmbedding(ctx, job.EmailID, vec); err != nil {
		s.log.Error("save embedding failed", zap.String("email_id", job.EmailID), zap.Error(err))
		return
	}
	for _, store := range s.stores {
		if err := store.StoreEmbedding(ctx, job.UserID, job.EmailID, vec); err != nil {
			s.log.Warn("external index write failed", zap.String("email_id", job.EmailID), zap.Error(err))
		}
	}
	s.metrics.EmbeddingStored()
}

// Enqueue adds a single job to the queue (non-blocking)
func (s *EmbeddingWorkerService) Enqueue(job EmbeddingJob) bool {
	select {
	case s.jobQueue <- job:
		s.metrics.EmbeddingQueued()
		return true
	default:
		s.log.Warn("queue full, dropping job", zap.String("email_id", job.EmailID))
		return false // Queue full
	}
}

// QueueMissing queues every email of userID without a vector ("" means every user)
// and returns how many were accepted
func (s *EmbeddingWorkerService) QueueMissing(ctx context.Context, userID string) (int, error) {
	emails, err := s.emailRepo.FindMissingEmbedding(ctx, userID, cap(s.jobQueue))
	if err != nil {
		return 0, fmt.Errorf("failed to list emails without embedding: %w", err)
	}
	queued := 0
	for _, e := range emails {
		if s.Enqueue(EmbeddingJob{UserID: e.UserID, EmailID: e.ID, Subject: e.Subject, Body: e.BodyPlain}) {
			queued++
		}
	}
	return queued, nil
}

// RunOnce embeds every email without a vector on the caller goroutine; used by the backfill command
func (s *EmbeddingWorkerService) RunOnce(ctx context.Context, userID string) (int, error) {
	emails, err := s.emailRepo.FindMissingEmbedding(ctx, userID, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list emails without embedding: %w", err)
	}
	for _, e := range emails {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		s.processJob(ctx, EmbeddingJob{UserID: e.UserID, EmailID: e.ID, Subject: e.Subject, Body: e.BodyPlain})
	}
	return len(emails), nil
}
