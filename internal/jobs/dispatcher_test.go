package jobs

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lumora-ai/lumora/internal/domain"
)

// MockDispatchQueue is a mock implementation of DispatchQueue
type MockDispatchQueue struct {
	mock.Mock
}

func (m *MockDispatchQueue) Enqueue(ctx context.Context, job *domain.DispatchJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func captureJobs(queue *MockDispatchQueue) *[]*domain.DispatchJob {
	var jobs []*domain.DispatchJob
	queue.On("Enqueue", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		jobs = append(jobs, args.Get(1).(*domain.DispatchJob))
	}).Return(nil)
	return &jobs
}

func testSources(n int) []SourceRef {
	refs := make([]SourceRef, n)
	for i := range refs {
		refs[i] = SourceRef{
			SourceID: "src-" + string(rune('a'+i)),
			OwnerID:  "owner-1",
			Type:     domain.ChunkTypeWebsite,
		}
	}
	return refs
}

func TestDispatchChunkDelaysWithinWindow(t *testing.T) {
	queue := new(MockDispatchQueue)
	jobs := captureJobs(queue)

	cfg := DispatcherConfig{MinDelay: 10 * time.Second, MaxDelay: 60 * time.Second}
	d := NewDispatcherWithRand(queue, cfg, rand.New(rand.NewSource(42)))

	before := time.Now().UTC()
	require.NoError(t, d.DispatchChunk(context.Background(), testSources(20)))
	after := time.Now().UTC()

	require.Len(t, *jobs, 20)
	for _, job := range *jobs {
		delayLow := job.RunAt.Sub(after)
		delayHigh := job.RunAt.Sub(before)
		assert.GreaterOrEqual(t, delayHigh, cfg.MinDelay)
		assert.LessOrEqual(t, delayLow, cfg.MaxDelay)
	}
}

func TestDispatchChunkDelaysAreIndependent(t *testing.T) {
	queue := new(MockDispatchQueue)
	jobs := captureJobs(queue)

	cfg := DispatcherConfig{MinDelay: 0, MaxDelay: time.Hour}
	d := NewDispatcherWithRand(queue, cfg, rand.New(rand.NewSource(1)))

	require.NoError(t, d.DispatchChunk(context.Background(), testSources(10)))

	// With an hour-wide window, ten draws from a seeded source all landing
	// on the same instant would mean the jitter is not being applied.
	distinct := make(map[time.Time]struct{})
	for _, job := range *jobs {
		distinct[job.RunAt] = struct{}{}
	}
	assert.Greater(t, len(distinct), 1)
}

func TestDispatchChunkJobFields(t *testing.T) {
	queue := new(MockDispatchQueue)
	jobs := captureJobs(queue)

	d := NewDispatcherWithRand(queue, DispatcherConfig{}, rand.New(rand.NewSource(7)))

	ref := SourceRef{SourceID: "src-1", OwnerID: "owner-9", Type: domain.ChunkTypeFAQ}
	require.NoError(t, d.DispatchChunk(context.Background(), []SourceRef{ref}))

	require.Len(t, *jobs, 1)
	job := (*jobs)[0]
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "src-1", job.SourceID)
	assert.Equal(t, "owner-9", job.OwnerID)
	assert.Equal(t, domain.ChunkTypeFAQ, job.Type)
	assert.Equal(t, domain.DispatchJobKindChunk, job.Kind)
	assert.Equal(t, domain.DispatchJobStatusPending, job.Status)
	assert.False(t, job.RunAt.IsZero())
	assert.False(t, job.CreatedAt.IsZero())
}

func TestDispatchProcessLinearSpacing(t *testing.T) {
	queue := new(MockDispatchQueue)
	jobs := captureJobs(queue)

	cfg := DispatcherConfig{Spacing: 5 * time.Second}
	d := NewDispatcherWithRand(queue, cfg, rand.New(rand.NewSource(3)))

	require.NoError(t, d.DispatchProcess(context.Background(), testSources(4)))

	require.Len(t, *jobs, 4)
	base := (*jobs)[0].RunAt
	for i, job := range *jobs {
		assert.Equal(t, domain.DispatchJobKindProcess, job.Kind)
		assert.Equal(t, base.Add(time.Duration(i)*cfg.Spacing), job.RunAt, "job %d", i)
	}
}

func TestDispatchEnqueueErrorStops(t *testing.T) {
	queue := new(MockDispatchQueue)
	queue.On("Enqueue", mock.Anything, mock.Anything).Return(assert.AnError)

	d := NewDispatcherWithRand(queue, DispatcherConfig{}, rand.New(rand.NewSource(3)))

	err := d.DispatchChunk(context.Background(), testSources(5))
	require.Error(t, err)
	queue.AssertNumberOfCalls(t, "Enqueue", 1)
}

func TestDispatchEmptySourceList(t *testing.T) {
	queue := new(MockDispatchQueue)

	d := NewDispatcherWithRand(queue, DispatcherConfig{}, rand.New(rand.NewSource(3)))

	require.NoError(t, d.DispatchChunk(context.Background(), nil))
	require.NoError(t, d.DispatchProcess(context.Background(), nil))
	queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestDispatcherConfigDefaults(t *testing.T) {
	queue := new(MockDispatchQueue)
	jobs := captureJobs(queue)

	// A max below the min collapses the window to [min, min].
	cfg := DispatcherConfig{MinDelay: 10 * time.Second, MaxDelay: time.Second}
	d := NewDispatcherWithRand(queue, cfg, rand.New(rand.NewSource(3)))

	before := time.Now().UTC()
	require.NoError(t, d.DispatchChunk(context.Background(), testSources(1)))

	require.Len(t, *jobs, 1)
	assert.GreaterOrEqual(t, (*jobs)[0].RunAt.Sub(before), 10*time.Second)
}
