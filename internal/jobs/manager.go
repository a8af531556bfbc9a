// Package jobs owns the asynchronous export job state machine: submission,
// worker execution, status polling and reaping of orphaned claims. Job state
// lives in the repository so it survives a restart; the channel is only a
// wake-up signal for workers.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/Dan9191/user-service/internal/export"
	"github.com/Dan9191/user-service/internal/models"
	"github.com/Dan9191/user-service/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Notifier tells a user their export is ready. Failures are logged, never
// propagated into the job state.
type Notifier interface {
	SendExportReady(to, username, location string) error
}

// Manager schedules and executes export jobs on a worker pool.
type Manager struct {
	repo       repository.Repository
	exporter   *export.Exporter
	notifier   Notifier
	log        *logrus.Logger
	queue      chan uuid.UUID
	workers    int
	staleAfter time.Duration
	wg         sync.WaitGroup
}

// NewManager initializes a job manager with the given worker count.
func NewManager(repo repository.Repository, exporter *export.Exporter, notifier Notifier, log *logrus.Logger, workers int, staleAfter time.Duration) *Manager {
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		repo:       repo,
		exporter:   exporter,
		notifier:   notifier,
		log:        log,
		queue:      make(chan uuid.UUID, 256),
		workers:    workers,
		staleAfter: staleAfter,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.run(ctx)
	}
	m.log.Infof("Started %d export workers", m.workers)
}

// Wait blocks until all workers have exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Submit validates the user, records a pending job and enqueues it. It
// returns as soon as the job row is durable; execution happens on the
// worker pool.
func (m *Manager) Submit(ctx context.Context, userID uuid.UUID) (*models.Job, error) {
	if _, err := m.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:     uuid.New(),
		UserID: userID,
		Status: models.JobPending,
	}
	if err := m.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	select {
	case m.queue <- job.ID:
	default:
		// Queue full: the job stays pending and RequeuePending picks it up.
		m.log.Warnf("Export queue full, job %s deferred", job.ID)
	}

	m.log.Infof("Export job %s submitted for user %s", job.ID, userID)
	return job, nil
}

// Get returns the current job state.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return m.repo.GetJob(ctx, id)
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-m.queue:
			m.execute(ctx, id)
		}
	}
}

// execute claims and runs a single job. The pending->running claim is an
// atomic compare-and-swap, so a job signalled twice still runs once.
func (m *Manager) execute(ctx context.Context, id uuid.UUID) {
	claimed, err := m.repo.ClaimJob(ctx, id)
	if err != nil {
		m.log.Errorf("Failed to claim job %s: %v", id, err)
		return
	}
	if !claimed {
		return
	}

	job, err := m.repo.GetJob(ctx, id)
	if err != nil {
		m.log.Errorf("Failed to load claimed job %s: %v", id, err)
		return
	}

	location, err := m.export(ctx, job)
	if err != nil {
		m.log.Errorf("Export job %s failed: %v", id, err)
		if failErr := m.repo.FailJob(ctx, id, err.Error()); failErr != nil {
			m.log.Errorf("Failed to record failure for job %s: %v", id, failErr)
		}
		return
	}

	if err := m.repo.CompleteJob(ctx, id, location); err != nil {
		m.log.Errorf("Failed to record completion for job %s: %v", id, err)
		return
	}
	m.log.Infof("Export job %s completed: %s", id, location)
}

func (m *Manager) export(ctx context.Context, job *models.Job) (string, error) {
	user, err := m.repo.GetUser(ctx, job.UserID)
	if err != nil {
		return "", err
	}
	addresses, _, err := m.repo.ListAddresses(ctx, repository.AddressFilter{UserID: user.ID})
	if err != nil {
		return "", err
	}

	location, err := m.exporter.Write(job.ID, user, addresses)
	if err != nil {
		return "", err
	}

	if m.notifier != nil {
		if err := m.notifier.SendExportReady(user.Email, user.Username, location); err != nil {
			m.log.Errorf("Failed to notify %s about export %s: %v", user.Email, job.ID, err)
		}
	}
	return location, nil
}

// ReapStale fails running jobs whose worker never finished (e.g. a crashed
// process), so polling clients are not left waiting forever.
func (m *Manager) ReapStale(ctx context.Context) {
	reaped, err := m.repo.FailStaleJobs(ctx, m.staleAfter, "export worker lost")
	if err != nil {
		m.log.Errorf("Failed to reap stale jobs: %v", err)
		return
	}
	if reaped > 0 {
		m.log.Warnf("Reaped %d stale export jobs", reaped)
	}
}

// RequeuePending re-signals pending jobs that fell off the in-process queue,
// e.g. after a restart. The atomic claim makes duplicate signals harmless.
func (m *Manager) RequeuePending(ctx context.Context) {
	pending, err := m.repo.ListJobsByStatus(ctx, models.JobPending, cap(m.queue))
	if err != nil {
		m.log.Errorf("Failed to list pending jobs: %v", err)
		return
	}
	for _, job := range pending {
		select {
		case m.queue <- job.ID:
		default:
			return
		}
	}
}
