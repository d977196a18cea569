package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/attriq/lead-engine/pkg/models"
	"github.com/attriq/lead-engine/pkg/repositories"
)

// scriptedProvider plays back one response per EmbedBatch call.
type scriptedProvider struct {
	calls     int
	responses []func(inputs []string) ([][]float32, error)
}

func (p *scriptedProvider) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if p.calls >= len(p.responses) {
		return nil, errors.New("no scripted response left")
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp(inputs)
}

// fakeTaskQueue keeps the embedding queue in memory with the repository's
// claim/complete/fail semantics.
type fakeTaskQueue struct {
	repositories.EmbeddingTaskRepository
	tasks []*models.EmbeddingTask
}

func (q *fakeTaskQueue) Claim(ctx context.Context, limit int) ([]*models.EmbeddingTask, error) {
	var claimed []*models.EmbeddingTask
	for _, task := range q.tasks {
		if len(claimed) == limit {
			break
		}
		if task.Status == models.EmbeddingTaskPending {
			task.Status = models.EmbeddingTaskProcessing
			claimed = append(claimed, task)
		}
	}
	return claimed, nil
}

func (q *fakeTaskQueue) Complete(ctx context.Context, taskID uuid.UUID) error {
	for _, task := range q.tasks {
		if task.ID == taskID {
			task.Status = models.EmbeddingTaskCompleted
			return nil
		}
	}
	return errors.New("task not found")
}

func (q *fakeTaskQueue) Fail(ctx context.Context, taskID uuid.UUID, taskErr error, maxAttempts int) error {
	for _, task := range q.tasks {
		if task.ID != taskID {
			continue
		}
		task.Attempts++
		msg := taskErr.Error()
		task.LastError = &msg
		if task.Attempts >= maxAttempts {
			task.Status = models.EmbeddingTaskFailed
		} else {
			task.Status = models.EmbeddingTaskPending
		}
		return nil
	}
	return errors.New("task not found")
}

// fakeEmbedTarget records SetEmbedding writes for both lead tables.
type fakeEmbedTarget struct {
	repositories.CanonicalLeadRepository
	vectors map[uuid.UUID]pgvector.Vector
	texts   map[uuid.UUID]string
	failFor uuid.UUID
}

func (f *fakeEmbedTarget) SetEmbedding(ctx context.Context, leadID uuid.UUID, embedding pgvector.Vector, text string) error {
	if leadID == f.failFor {
		return errors.New("lead vanished")
	}
	if f.vectors == nil {
		f.vectors = make(map[uuid.UUID]pgvector.Vector)
		f.texts = make(map[uuid.UUID]string)
	}
	f.vectors[leadID] = embedding
	f.texts[leadID] = text
	return nil
}

func newEmbedWorkerFixture(provider *scriptedProvider) (*embedWorkerService, *fakeTaskQueue, *fakeEmbedTarget) {
	queue := &fakeTaskQueue{}
	target := &fakeEmbedTarget{}
	svc := &embedWorkerService{
		db:          passthroughTx{},
		tasks:       queue,
		leads:       target,
		provider:    provider,
		maxAttempts: 3,
		stuckAfter:  10 * time.Minute,
		logger:      zap.NewNop(),
	}
	return svc, queue, target
}

func embedTask(text string) *models.EmbeddingTask {
	return &models.EmbeddingTask{
		ID:          uuid.New(),
		TableName:   models.EmbedTargetCanonicalLeads,
		RecordID:    uuid.New(),
		TextToEmbed: text,
		Status:      models.EmbeddingTaskPending,
	}
}

func TestEmbedWorkerRetriesAfterProviderOutage(t *testing.T) {
	provider := &scriptedProvider{
		responses: []func([]string) ([][]float32, error){
			func([]string) ([][]float32, error) {
				return nil, errors.New("upstream 503")
			},
			func(inputs []string) ([][]float32, error) {
				vectors := make([][]float32, len(inputs))
				for i := range inputs {
					vectors[i] = []float32{float32(i), 1}
				}
				return vectors, nil
			},
		},
	}
	svc, queue, target := newEmbedWorkerFixture(provider)
	task := embedTask("maria garcia maria@example.com")
	queue.tasks = []*models.EmbeddingTask{task}

	// First cycle fails at the provider; the task returns to pending with
	// the attempt charged.
	completed, err := svc.Run(context.Background(), 8)
	require.Error(t, err)
	assert.Equal(t, 0, completed)
	assert.Equal(t, models.EmbeddingTaskPending, task.Status)
	assert.Equal(t, 1, task.Attempts)
	require.NotNil(t, task.LastError)
	assert.Contains(t, *task.LastError, "upstream 503")

	// The provider recovers and the next cycle completes the same task.
	completed, err = svc.Run(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	assert.Equal(t, models.EmbeddingTaskCompleted, task.Status)
	assert.Equal(t, "maria garcia maria@example.com", target.texts[task.RecordID])
}

func TestEmbedWorkerWholeBatchFailureChargesEveryTask(t *testing.T) {
	provider := &scriptedProvider{
		responses: []func([]string) ([][]float32, error){
			func([]string) ([][]float32, error) {
				return nil, errors.New("rate limited")
			},
		},
	}
	svc, queue, _ := newEmbedWorkerFixture(provider)
	queue.tasks = []*models.EmbeddingTask{embedTask("a"), embedTask("b"), embedTask("c")}

	completed, err := svc.Run(context.Background(), 8)

	require.Error(t, err)
	assert.Equal(t, 0, completed)
	for _, task := range queue.tasks {
		assert.Equal(t, models.EmbeddingTaskPending, task.Status)
		assert.Equal(t, 1, task.Attempts)
	}
}

func TestEmbedWorkerPerTaskWriteFailureDoesNotStopBatch(t *testing.T) {
	provider := &scriptedProvider{
		responses: []func([]string) ([][]float32, error){
			func(inputs []string) ([][]float32, error) {
				vectors := make([][]float32, len(inputs))
				for i := range inputs {
					vectors[i] = []float32{1}
				}
				return vectors, nil
			},
		},
	}
	svc, queue, target := newEmbedWorkerFixture(provider)
	broken := embedTask("broken")
	healthy := embedTask("healthy")
	queue.tasks = []*models.EmbeddingTask{broken, healthy}
	target.failFor = broken.RecordID

	completed, err := svc.Run(context.Background(), 8)

	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	assert.Equal(t, models.EmbeddingTaskPending, broken.Status)
	assert.Equal(t, 1, broken.Attempts)
	assert.Equal(t, models.EmbeddingTaskCompleted, healthy.Status)
	assert.Equal(t, "healthy", target.texts[healthy.RecordID])
}

func TestEmbedWorkerExhaustedTaskIsMarkedFailed(t *testing.T) {
	provider := &scriptedProvider{
		responses: []func([]string) ([][]float32, error){
			func([]string) ([][]float32, error) { return nil, errors.New("boom") },
		},
	}
	svc, queue, _ := newEmbedWorkerFixture(provider)
	task := embedTask("stubborn")
	task.Attempts = 2
	queue.tasks = []*models.EmbeddingTask{task}

	_, err := svc.Run(context.Background(), 8)

	require.Error(t, err)
	assert.Equal(t, models.EmbeddingTaskFailed, task.Status)
	assert.Equal(t, 3, task.Attempts)
}
