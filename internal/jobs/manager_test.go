package jobs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dan9191/user-service/internal/common"
	"github.com/Dan9191/user-service/internal/export"
	"github.com/Dan9191/user-service/internal/models"
	"github.com/Dan9191/user-service/internal/repository"
	"github.com/Dan9191/user-service/internal/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUser(t *testing.T, repo *repository.Memory) *models.User {
	t.Helper()
	user := &models.User{
		ID:          uuid.New(),
		Email:       "a@x.com",
		Username:    "a",
		Credentials: models.Credentials{Kind: models.CredentialNone},
	}
	user.Fingerprint = utils.Fingerprint(user.FingerprintFields()...)
	require.NoError(t, repo.CreateUser(context.Background(), user))
	return user
}

func startManager(t *testing.T, repo *repository.Memory, exportDir string) *Manager {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	m := NewManager(repo, export.NewExporter(exportDir), nil, log, 2, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m.Start(ctx)
	return m
}

func TestSubmitUnknownUser(t *testing.T) {
	repo := repository.NewMemory()
	m := startManager(t, repo, t.TempDir())

	_, err := m.Submit(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSubmitReturnsPendingImmediately(t *testing.T) {
	repo := repository.NewMemory()
	m := startManager(t, repo, t.TempDir())
	user := newTestUser(t, repo)

	job, err := m.Submit(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Empty(t, job.Result)
	assert.Empty(t, job.Error)
}

func TestExportCompletes(t *testing.T) {
	repo := repository.NewMemory()
	dir := t.TempDir()
	m := startManager(t, repo, dir)
	ctx := context.Background()
	user := newTestUser(t, repo)

	addr := &models.Address{
		ID: uuid.New(), UserID: user.ID,
		Country: "LV", City: "Riga", Street: "Brivibas 1", PostalCode: "LV-1001",
	}
	addr.Fingerprint = utils.Fingerprint(addr.FingerprintFields()...)
	require.NoError(t, repo.CreateAddress(ctx, addr))

	job, err := m.Submit(ctx, user.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := m.Get(ctx, job.ID)
		return err == nil && j.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	final, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, final.Status)
	assert.Empty(t, final.Error)
	assert.NotNil(t, final.CompletedAt)
	assert.Equal(t, filepath.Join(dir, "export-"+job.ID.String()+".xml"), final.Result)

	data, err := os.ReadFile(final.Result)
	require.NoError(t, err)
	assert.Contains(t, string(data), "a@x.com")
	assert.Contains(t, string(data), "Brivibas 1")
}

func TestExportFailureIsTerminalWithDetail(t *testing.T) {
	repo := repository.NewMemory()
	// The export directory path sits below a regular file, so MkdirAll fails.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	m := startManager(t, repo, filepath.Join(blocker, "exports"))
	ctx := context.Background()
	user := newTestUser(t, repo)

	job, err := m.Submit(ctx, user.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := m.Get(ctx, job.ID)
		return err == nil && j.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	final, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, final.Status)
	assert.NotEmpty(t, final.Error)
	assert.Empty(t, final.Result)
}

func TestClaimIsExactlyOnce(t *testing.T) {
	repo := repository.NewMemory()
	ctx := context.Background()
	user := newTestUser(t, repo)

	job := &models.Job{ID: uuid.New(), UserID: user.ID, Status: models.JobPending}
	require.NoError(t, repo.CreateJob(ctx, job))

	first, err := repo.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	second, err := repo.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}

func TestGetUnknownJob(t *testing.T) {
	repo := repository.NewMemory()
	m := startManager(t, repo, t.TempDir())
	_, err := m.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestReapStaleFailsOrphanedJobs(t *testing.T) {
	repo := repository.NewMemory()
	ctx := context.Background()
	user := newTestUser(t, repo)

	job := &models.Job{ID: uuid.New(), UserID: user.ID, Status: models.JobPending}
	require.NoError(t, repo.CreateJob(ctx, job))
	claimed, err := repo.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	log := logrus.New()
	log.SetOutput(io.Discard)
	// Zero max age makes the fresh claim immediately stale.
	m := NewManager(repo, export.NewExporter(t.TempDir()), nil, log, 1, 0)
	m.ReapStale(ctx)

	reaped, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, reaped.Status)
	assert.Equal(t, "export worker lost", reaped.Error)
}
