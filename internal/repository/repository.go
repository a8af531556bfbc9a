package repository

import (
	"context"
	"time"

	"github.com/Dan9191/user-service/internal/models"
	"github.com/google/uuid"
)

// UserFilter narrows and pages a user listing.
type UserFilter struct {
	Email    string
	Username string
	Limit    int
	Offset   int
}

// AddressFilter narrows and pages an address listing.
type AddressFilter struct {
	UserID uuid.UUID // zero value means no owner filter
	Limit  int
	Offset int
}

// UserRepository provides durable storage for users. Conditional updates
// compare-and-swap on the stored fingerprint so per-entity writes serialize
// across processes.
type UserRepository interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]*models.User, int, error)

	// UpdateUser persists u only if the stored fingerprint still equals
	// oldFingerprint. Returns common.ErrPreconditionFailed on a stale
	// fingerprint and common.ErrNotFound if the row is gone.
	UpdateUser(ctx context.Context, u *models.User, oldFingerprint string) error

	// DeleteUserCascade removes the user and all owned addresses in one
	// atomic operation, returning the number of addresses removed.
	DeleteUserCascade(ctx context.Context, id uuid.UUID) (int, error)
}

// AddressRepository provides durable storage for addresses.
type AddressRepository interface {
	CreateAddress(ctx context.Context, a *models.Address) error
	GetAddress(ctx context.Context, id uuid.UUID) (*models.Address, error)
	ListAddresses(ctx context.Context, f AddressFilter) ([]*models.Address, int, error)
	UpdateAddress(ctx context.Context, a *models.Address, oldFingerprint string) error
	DeleteAddress(ctx context.Context, id uuid.UUID) error
}

// JobRepository is the durable job-status store. Claiming is an atomic
// pending->running compare-and-swap so exactly one worker executes a job.
type JobRepository interface {
	CreateJob(ctx context.Context, j *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobsByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error)
	ClaimJob(ctx context.Context, id uuid.UUID) (bool, error)
	CompleteJob(ctx context.Context, id uuid.UUID, result string) error
	FailJob(ctx context.Context, id uuid.UUID, detail string) error

	// FailStaleJobs fails running jobs whose claim is older than maxAge,
	// returning how many were reaped.
	FailStaleJobs(ctx context.Context, maxAge time.Duration, detail string) (int, error)
}

// Repository bundles the entity stores behind one contract.
type Repository interface {
	UserRepository
	AddressRepository
	JobRepository
}
