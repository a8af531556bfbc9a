package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dan9191/user-service/internal/common"
	"github.com/Dan9191/user-service/internal/models"
	"github.com/google/uuid"
)

// Memory implements Repository with in-process maps. It mirrors the Postgres
// semantics (fingerprint compare-and-swap, atomic cascade, atomic job claim)
// and backs the test suite.
type Memory struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]*models.User
	addresses map[uuid.UUID]*models.Address
	jobs      map[uuid.UUID]*models.Job
}

// NewMemory initializes an empty in-memory repository
func NewMemory() *Memory {
	return &Memory{
		users:     make(map[uuid.UUID]*models.User),
		addresses: make(map[uuid.UUID]*models.Address),
		jobs:      make(map[uuid.UUID]*models.Job),
	}
}

func copyUser(u *models.User) *models.User {
	c := *u
	return &c
}

func copyAddress(a *models.Address) *models.Address {
	c := *a
	return &c
}

func copyJob(j *models.Job) *models.Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ---- users ----

func (m *Memory) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return common.ErrConflict
		}
	}
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	m.users[u.ID] = copyUser(u)
	return nil
}

func (m *Memory) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return copyUser(u), nil
}

func (m *Memory) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *Memory) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *Memory) ListUsers(_ context.Context, f UserFilter) ([]*models.User, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*models.User
	for _, u := range m.users {
		if f.Email != "" && u.Email != f.Email {
			continue
		}
		if f.Username != "" && u.Username != f.Username {
			continue
		}
		matched = append(matched, copyUser(u))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})
	total := len(matched)
	matched = page(matched, f.Limit, f.Offset)
	return matched, total, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (m *Memory) UpdateUser(_ context.Context, u *models.User, oldFingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.users[u.ID]
	if !ok {
		return common.ErrNotFound
	}
	if current.Fingerprint != oldFingerprint {
		return common.ErrPreconditionFailed
	}
	for id, existing := range m.users {
		if id == u.ID {
			continue
		}
		if existing.Email == u.Email || existing.Username == u.Username {
			return common.ErrConflict
		}
	}
	u.CreatedAt = current.CreatedAt
	u.UpdatedAt = time.Now()
	m.users[u.ID] = copyUser(u)
	return nil
}

func (m *Memory) DeleteUserCascade(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return 0, common.ErrNotFound
	}
	removed := 0
	for aid, a := range m.addresses {
		if a.UserID == id {
			delete(m.addresses, aid)
			removed++
		}
	}
	delete(m.users, id)
	return removed, nil
}

// ---- addresses ----

func (m *Memory) CreateAddress(_ context.Context, a *models.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	m.addresses[a.ID] = copyAddress(a)
	return nil
}

func (m *Memory) GetAddress(_ context.Context, id uuid.UUID) (*models.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.addresses[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return copyAddress(a), nil
}

func (m *Memory) ListAddresses(_ context.Context, f AddressFilter) ([]*models.Address, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*models.Address
	for _, a := range m.addresses {
		if f.UserID != uuid.Nil && a.UserID != f.UserID {
			continue
		}
		matched = append(matched, copyAddress(a))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})
	total := len(matched)
	matched = page(matched, f.Limit, f.Offset)
	return matched, total, nil
}

func (m *Memory) UpdateAddress(_ context.Context, a *models.Address, oldFingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.addresses[a.ID]
	if !ok {
		return common.ErrNotFound
	}
	if current.Fingerprint != oldFingerprint {
		return common.ErrPreconditionFailed
	}
	a.CreatedAt = current.CreatedAt
	a.UpdatedAt = time.Now()
	m.addresses[a.ID] = copyAddress(a)
	return nil
}

func (m *Memory) DeleteAddress(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.addresses[id]; !ok {
		return common.ErrNotFound
	}
	delete(m.addresses, id)
	return nil
}

// ---- jobs ----

func (m *Memory) CreateJob(_ context.Context, j *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j.CreatedAt = time.Now()
	m.jobs[j.ID] = copyJob(j)
	return nil
}

func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return copyJob(j), nil
}

func (m *Memory) ListJobsByStatus(_ context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*models.Job
	for _, j := range m.jobs {
		if j.Status == status {
			matched = append(matched, copyJob(j))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *Memory) ClaimJob(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobPending {
		return false, nil
	}
	if err := j.Transition(models.JobRunning); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Memory) CompleteJob(_ context.Context, id uuid.UUID, result string) error {
	return m.finishJob(id, models.JobCompleted, result, "")
}

func (m *Memory) FailJob(_ context.Context, id uuid.UUID, detail string) error {
	return m.finishJob(id, models.JobFailed, "", detail)
}

func (m *Memory) finishJob(id uuid.UUID, status models.JobStatus, result, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return common.ErrNotFound
	}
	if err := j.Transition(status); err != nil {
		return err
	}
	j.Result = result
	j.Error = detail
	return nil
}

func (m *Memory) FailStaleJobs(_ context.Context, maxAge time.Duration, detail string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	reaped := 0
	for _, j := range m.jobs {
		if j.Status == models.JobRunning && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			if err := j.Transition(models.JobFailed); err != nil {
				continue
			}
			j.Error = detail
			reaped++
		}
	}
	return reaped, nil
}
