package featured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/londonmove/listings-proxy/pkg/kvstore"
)

// JobStatus is the stored job state. Absence of the job key means no job is
// pending, so pending is the only persisted status.
type JobStatus string

const StatusPending JobStatus = "pending"

// Job is a scheduled featured-set replenishment. At most one exists at a
// time; a new Schedule call overwrites a still-pending job.
type Job struct {
	ID                     string    `json:"id"`
	ScheduledAt            time.Time `json:"scheduledAt"`
	ExecuteAt              time.Time `json:"executeAt"`
	Shortfall              int       `json:"shortfall"`
	TargetCount            int       `json:"targetCount"`
	CurrentCountAtSchedule int       `json:"currentCountAtSchedule"`
	Status                 JobStatus `json:"status"`
}

// Status is a read-only projection of the pending job for external pollers.
type Status struct {
	Exists        bool
	Job           *Job
	TimeRemaining time.Duration
	IsReady       bool
}

// ExecuteResult reports one ExecuteDue pass.
type ExecuteResult struct {
	Executed bool
	Added    []string
	// Satisfied is false when fewer candidates existed than the shortfall.
	// The job still completes; partial success is not retried.
	Satisfied bool
}

// Schedule arms a backfill job for a set currently at currentCount ids.
// Returns nil with no error when the count already meets the floor. The job
// self-expires a buffer past executeAt so an unpolled job cannot linger.
func (m *Manager) Schedule(ctx context.Context, currentCount int) (*Job, error) {
	shortfall := m.min - currentCount
	if shortfall <= 0 {
		return nil, nil
	}
	now := m.now()
	job := &Job{
		ID:                     uuid.NewString(),
		ScheduledAt:            now,
		ExecuteAt:              now.Add(m.delay),
		Shortfall:              shortfall,
		TargetCount:            m.min,
		CurrentCountAtSchedule: currentCount,
		Status:                 StatusPending,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("featured: encoding backfill job: %w", err)
	}
	if err := m.store.Put(ctx, KeyJob, data, m.delay+m.buffer); err != nil {
		return nil, fmt.Errorf("featured: storing backfill job: %w", err)
	}
	backfillScheduled.Inc()
	m.logger.Info().
		Str("job_id", job.ID).
		Int("shortfall", shortfall).
		Time("execute_at", job.ExecuteAt).
		Msg("Backfill job scheduled")
	return job, nil
}

// JobStatus reports the pending job without mutating it.
func (m *Manager) JobStatus(ctx context.Context) (*Status, error) {
	job, err := m.loadJob(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return &Status{}, nil
	}
	remaining := job.ExecuteAt.Sub(m.now())
	if remaining < 0 {
		remaining = 0
	}
	return &Status{
		Exists:        true,
		Job:           job,
		TimeRemaining: remaining,
		IsReady:       remaining == 0,
	}, nil
}

// ExecuteDue runs the pending job if one exists and is due. The shortfall is
// recomputed at execution time: a set already back at target completes the
// job as a no-op. Replenishment ids are sampled uniformly without
// replacement from non-featured listings and added through the same toggle
// path as manual mutations. On any error the job is left in place so the
// next poll retries it; the recheck makes the retry idempotent.
func (m *Manager) ExecuteDue(ctx context.Context) (*ExecuteResult, error) {
	job, err := m.loadJob(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return &ExecuteResult{}, nil
	}
	if m.now().Before(job.ExecuteAt) {
		return &ExecuteResult{}, nil
	}

	ids, err := m.sourceIDs(ctx)
	if err != nil {
		return nil, err
	}
	needed := job.TargetCount - len(ids)
	if needed <= 0 {
		m.deleteJob(ctx, job.ID)
		backfillExecutions.WithLabelValues("noop").Inc()
		m.logger.Info().Str("job_id", job.ID).Msg("Backfill job executed as no-op, set already at target")
		return &ExecuteResult{Executed: true, Satisfied: true}, nil
	}

	candidates, err := m.backfillCandidates(ctx, ids)
	if err != nil {
		backfillExecutions.WithLabelValues("error").Inc()
		return nil, err
	}

	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if needed < len(candidates) {
		candidates = candidates[:needed]
	}

	added := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if _, err := m.Toggle(ctx, id); err != nil {
			backfillExecutions.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("featured: backfill add of %s: %w", id, err)
		}
		added = append(added, id)
	}

	m.deleteJob(ctx, job.ID)
	satisfied := len(added) >= needed
	outcome := "completed"
	if !satisfied {
		outcome = "partial"
	}
	backfillExecutions.WithLabelValues(outcome).Inc()
	m.logger.Info().
		Str("job_id", job.ID).
		Int("needed", needed).
		Int("added", len(added)).
		Bool("satisfied", satisfied).
		Msg("Backfill job executed")
	return &ExecuteResult{Executed: true, Added: added, Satisfied: satisfied}, nil
}

// backfillCandidates lists ids of cached listings not already featured.
func (m *Manager) backfillCandidates(ctx context.Context, featured []string) ([]string, error) {
	snapshot, err := m.listings.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("featured: loading backfill candidates: %w", err)
	}
	exclude := make(map[string]struct{}, len(featured))
	for _, id := range featured {
		exclude[id] = struct{}{}
	}
	var candidates []string
	for _, id := range snapshot.IDs() {
		if _, ok := exclude[id]; !ok {
			candidates = append(candidates, id)
		}
	}
	return candidates, nil
}

func (m *Manager) loadJob(ctx context.Context) (*Job, error) {
	raw, err := m.store.Get(ctx, KeyJob)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("featured: reading backfill job: %w", err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("featured: decoding backfill job: %w", err)
	}
	return &job, nil
}

// deleteJob removes a completed job. A failed delete is harmless: the next
// poll recomputes the shortfall, finds the set at target and deletes again.
func (m *Manager) deleteJob(ctx context.Context, jobID string) {
	if err := m.store.Delete(ctx, KeyJob); err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to delete executed backfill job")
	}
}
