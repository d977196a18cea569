package services

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/attriq/lead-engine/pkg/database"
	"github.com/attriq/lead-engine/pkg/embeddings"
	"github.com/attriq/lead-engine/pkg/models"
	"github.com/attriq/lead-engine/pkg/repositories"
)

// EmbedWorkerService drains the embedding work queue.
type EmbedWorkerService interface {
	// Run claims one batch of tasks, embeds them in a single provider
	// call, and writes vectors back. Returns the number of tasks
	// completed.
	Run(ctx context.Context, batchSize int) (int, error)

	// RevertStuck returns tasks abandoned mid-processing to the queue.
	RevertStuck(ctx context.Context) (int, error)

	Stats(ctx context.Context) (*repositories.EmbeddingQueueStats, error)
}

type embedWorkerService struct {
	db          txRunner
	tasks       repositories.EmbeddingTaskRepository
	leads       repositories.CanonicalLeadRepository
	crmLeads    repositories.CrmLeadRepository
	provider    embeddings.Provider
	maxAttempts int
	stuckAfter  time.Duration
	logger      *zap.Logger
}

// NewEmbedWorkerService creates a new EmbedWorkerService.
func NewEmbedWorkerService(
	db *database.DB,
	tasks repositories.EmbeddingTaskRepository,
	leads repositories.CanonicalLeadRepository,
	crmLeads repositories.CrmLeadRepository,
	provider embeddings.Provider,
	maxAttempts int,
	stuckAfter time.Duration,
	logger *zap.Logger,
) EmbedWorkerService {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if stuckAfter <= 0 {
		stuckAfter = 10 * time.Minute
	}
	return &embedWorkerService{
		db:          db,
		tasks:       tasks,
		leads:       leads,
		crmLeads:    crmLeads,
		provider:    provider,
		maxAttempts: maxAttempts,
		stuckAfter:  stuckAfter,
		logger:      logger.Named("embed-worker"),
	}
}

var _ EmbedWorkerService = (*embedWorkerService)(nil)

func (s *embedWorkerService) Run(ctx context.Context, batchSize int) (int, error) {
	var claimed []*models.EmbeddingTask
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		var err error
		claimed, err = s.tasks.Claim(ctx, batchSize)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("claim embedding tasks: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	inputs := make([]string, len(claimed))
	for i, task := range claimed {
		inputs[i] = task.TextToEmbed
	}

	vectors, err := s.provider.EmbedBatch(ctx, inputs)
	if err != nil {
		// Whole-batch failure: every task gets the attempt charged and
		// returns to pending until attempts run out.
		s.logger.Error("embedding batch failed",
			zap.Int("tasks", len(claimed)),
			zap.Error(err))
		for _, task := range claimed {
			if fErr := s.tasks.Fail(ctx, task.ID, err, s.maxAttempts); fErr != nil {
				s.logger.Error("record task failure", zap.Error(fErr))
			}
		}
		return 0, err
	}

	completed := 0
	for i, task := range claimed {
		vec := pgvector.NewVector(vectors[i])
		err := s.db.WithTx(ctx, func(ctx context.Context) error {
			if err := s.writeVector(ctx, task, vec); err != nil {
				return err
			}
			return s.tasks.Complete(ctx, task.ID)
		})
		if err != nil {
			s.logger.Warn("write embedding failed",
				zap.String("task_id", task.ID.String()),
				zap.String("table", task.TableName),
				zap.Error(err))
			if fErr := s.tasks.Fail(ctx, task.ID, err, s.maxAttempts); fErr != nil {
				s.logger.Error("record task failure", zap.Error(fErr))
			}
			continue
		}
		completed++
	}

	s.logger.Info("embedded batch",
		zap.Int("claimed", len(claimed)),
		zap.Int("completed", completed))
	return completed, nil
}

func (s *embedWorkerService) writeVector(ctx context.Context, task *models.EmbeddingTask, vec pgvector.Vector) error {
	switch task.TableName {
	case models.EmbedTargetCanonicalLeads:
		return s.leads.SetEmbedding(ctx, task.RecordID, vec, task.TextToEmbed)
	case models.EmbedTargetCrmLeads:
		return s.crmLeads.SetEmbedding(ctx, task.RecordID, vec, task.TextToEmbed)
	default:
		return fmt.Errorf("unknown embedding target %q", task.TableName)
	}
}

func (s *embedWorkerService) RevertStuck(ctx context.Context) (int, error) {
	n, err := s.tasks.RevertStuck(ctx, s.stuckAfter, s.maxAttempts)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("reverted stuck embedding tasks", zap.Int("count", n))
	}
	return n, nil
}

func (s *embedWorkerService) Stats(ctx context.Context) (*repositories.EmbeddingQueueStats, error) {
	return s.tasks.Stats(ctx)
}
