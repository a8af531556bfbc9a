package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/user-service/internal/common"
	"github.com/Dan9191/user-service/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Postgres implements Repository on top of database/sql with the pq driver.
type Postgres struct {
	db *sql.DB
}

// NewPostgres initializes a new Postgres-backed repository
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (r *Postgres) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

// ---- users ----

const userColumns = `id, email, username, full_name, avatar_url, phone,
	credential_kind, password_hash, external_id, fingerprint, created_at, updated_at`

func scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.FullName, &u.AvatarURL, &u.Phone,
		&u.Credentials.Kind, &u.Credentials.PasswordHash, &u.Credentials.ExternalID,
		&u.Fingerprint, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return u, nil
}

// CreateUser creates a new user row
func (r *Postgres) CreateUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (id, email, username, full_name, avatar_url, phone,
			credential_kind, password_hash, external_id, fingerprint, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, u.ID, u.Email, u.Username, u.FullName, u.AvatarURL, u.Phone,
		u.Credentials.Kind, u.Credentials.PasswordHash, u.Credentials.ExternalID, u.Fingerprint).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if isUniqueViolation(err) {
		return common.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id
func (r *Postgres) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// FindUserByEmail retrieves a user by email
func (r *Postgres) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// FindUserByUsername retrieves a user by username
func (r *Postgres) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, username))
}

// limitArg converts a filter limit to a LIMIT argument; non-positive means
// no limit (LIMIT NULL), matching the in-memory repository.
func limitArg(limit int) any {
	if limit > 0 {
		return limit
	}
	return nil
}

// ListUsers returns a page of users matching the filter plus the total match count.
func (r *Postgres) ListUsers(ctx context.Context, f UserFilter) ([]*models.User, int, error) {
	where := ` WHERE ($1 = '' OR email = $1) AND ($2 = '' OR username = $2)`

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where, f.Email, f.Username).
		Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM users` + where + `
		ORDER BY created_at, id LIMIT $3 OFFSET $4`
	rows, err := r.db.QueryContext(ctx, query, f.Email, f.Username, limitArg(f.Limit), f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u := &models.User{}
		if err := rows.Scan(&u.ID, &u.Email, &u.Username, &u.FullName, &u.AvatarURL, &u.Phone,
			&u.Credentials.Kind, &u.Credentials.PasswordHash, &u.Credentials.ExternalID,
			&u.Fingerprint, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	return users, total, nil
}

// UpdateUser persists u with a compare-and-swap on the stored fingerprint.
func (r *Postgres) UpdateUser(ctx context.Context, u *models.User, oldFingerprint string) error {
	query := `
		UPDATE users
		SET email = $1, username = $2, full_name = $3, avatar_url = $4, phone = $5,
			credential_kind = $6, password_hash = $7, external_id = $8,
			fingerprint = $9, updated_at = CURRENT_TIMESTAMP
		WHERE id = $10 AND fingerprint = $11
		RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query, u.Email, u.Username, u.FullName, u.AvatarURL, u.Phone,
		u.Credentials.Kind, u.Credentials.PasswordHash, u.Credentials.ExternalID,
		u.Fingerprint, u.ID, oldFingerprint).
		Scan(&u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Zero rows means either the row vanished or the fingerprint moved.
		if _, getErr := r.GetUser(ctx, u.ID); errors.Is(getErr, common.ErrNotFound) {
			return common.ErrNotFound
		}
		return common.ErrPreconditionFailed
	}
	if isUniqueViolation(err) {
		return common.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// DeleteUserCascade removes the user and all owned addresses in one transaction.
func (r *Postgres) DeleteUserCascade(ctx context.Context, id uuid.UUID) (int, error) {
	var removed int
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM addresses WHERE user_id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete addresses: %w", err)
		}
		n, _ := res.RowsAffected()
		removed = int(n)

		res, err = tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return common.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// ---- addresses ----

const addressColumns = `id, user_id, country, city, street, postal_code, fingerprint, created_at, updated_at`

func scanAddress(row *sql.Row) (*models.Address, error) {
	a := &models.Address{}
	err := row.Scan(&a.ID, &a.UserID, &a.Country, &a.City, &a.Street, &a.PostalCode,
		&a.Fingerprint, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan address: %w", err)
	}
	return a, nil
}

// CreateAddress creates a new address row
func (r *Postgres) CreateAddress(ctx context.Context, a *models.Address) error {
	query := `
		INSERT INTO addresses (id, user_id, country, city, street, postal_code, fingerprint, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, a.ID, a.UserID, a.Country, a.City, a.Street, a.PostalCode, a.Fingerprint).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create address: %w", err)
	}
	return nil
}

// GetAddress retrieves an address by id
func (r *Postgres) GetAddress(ctx context.Context, id uuid.UUID) (*models.Address, error) {
	query := `SELECT ` + addressColumns + ` FROM addresses WHERE id = $1`
	return scanAddress(r.db.QueryRowContext(ctx, query, id))
}

// ListAddresses returns a page of addresses matching the filter plus the total match count.
func (r *Postgres) ListAddresses(ctx context.Context, f AddressFilter) ([]*models.Address, int, error) {
	where := ` WHERE ($1::uuid IS NULL OR user_id = $1)`
	var owner any
	if f.UserID != uuid.Nil {
		owner = f.UserID
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM addresses`+where, owner).
		Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count addresses: %w", err)
	}

	query := `SELECT ` + addressColumns + ` FROM addresses` + where + `
		ORDER BY created_at, id LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, owner, limitArg(f.Limit), f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list addresses: %w", err)
	}
	defer rows.Close()

	var addresses []*models.Address
	for rows.Next() {
		a := &models.Address{}
		if err := rows.Scan(&a.ID, &a.UserID, &a.Country, &a.City, &a.Street, &a.PostalCode,
			&a.Fingerprint, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan address: %w", err)
		}
		addresses = append(addresses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list addresses: %w", err)
	}
	return addresses, total, nil
}

// UpdateAddress persists a with a compare-and-swap on the stored fingerprint.
func (r *Postgres) UpdateAddress(ctx context.Context, a *models.Address, oldFingerprint string) error {
	query := `
		UPDATE addresses
		SET country = $1, city = $2, street = $3, postal_code = $4,
			fingerprint = $5, updated_at = CURRENT_TIMESTAMP
		WHERE id = $6 AND fingerprint = $7
		RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query, a.Country, a.City, a.Street, a.PostalCode,
		a.Fingerprint, a.ID, oldFingerprint).
		Scan(&a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetAddress(ctx, a.ID); errors.Is(getErr, common.ErrNotFound) {
			return common.ErrNotFound
		}
		return common.ErrPreconditionFailed
	}
	if err != nil {
		return fmt.Errorf("failed to update address: %w", err)
	}
	return nil
}

// DeleteAddress removes a single address
func (r *Postgres) DeleteAddress(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM addresses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete address: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// ---- jobs ----

const jobColumns = `id, user_id, status, result, error, created_at, started_at, completed_at`

func scanJob(row *sql.Row) (*models.Job, error) {
	j := &models.Job{}
	err := row.Scan(&j.ID, &j.UserID, &j.Status, &j.Result, &j.Error,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	return j, nil
}

// CreateJob inserts a new job row
func (r *Postgres) CreateJob(ctx context.Context, j *models.Job) error {
	query := `
		INSERT INTO jobs (id, user_id, status, result, error, created_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		RETURNING created_at`
	err := r.db.QueryRowContext(ctx, query, j.ID, j.UserID, j.Status, j.Result, j.Error).
		Scan(&j.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by id
func (r *Postgres) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return scanJob(r.db.QueryRowContext(ctx, query, id))
}

// ListJobsByStatus returns up to limit jobs in the given status, oldest first.
func (r *Postgres) ListJobsByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 ORDER BY created_at, id LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j := &models.Job{}
		if err := rows.Scan(&j.ID, &j.UserID, &j.Status, &j.Result, &j.Error,
			&j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ClaimJob atomically moves a job from pending to running. Returns false
// when the job was already claimed or is not pending.
func (r *Postgres) ClaimJob(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE jobs SET status = $1, started_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, models.JobRunning, id, models.JobPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// CompleteJob records a successful terminal transition with the result location.
func (r *Postgres) CompleteJob(ctx context.Context, id uuid.UUID, result string) error {
	return r.finishJob(ctx, id, models.JobCompleted, result, "")
}

// FailJob records a failed terminal transition with an error detail.
func (r *Postgres) FailJob(ctx context.Context, id uuid.UUID, detail string) error {
	return r.finishJob(ctx, id, models.JobFailed, "", detail)
}

func (r *Postgres) finishJob(ctx context.Context, id uuid.UUID, status models.JobStatus, result, detail string) error {
	query := `
		UPDATE jobs SET status = $1, result = $2, error = $3, completed_at = CURRENT_TIMESTAMP
		WHERE id = $4 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, status, result, detail, id, models.JobRunning)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Zero rows means either the job is gone or it already left the
		// running state (e.g. reaped); report which.
		j, getErr := r.GetJob(ctx, id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("job is %s, not running", j.Status)
	}
	return nil
}

// FailStaleJobs fails running jobs claimed more than maxAge ago.
func (r *Postgres) FailStaleJobs(ctx context.Context, maxAge time.Duration, detail string) (int, error) {
	query := `
		UPDATE jobs SET status = $1, error = $2, completed_at = CURRENT_TIMESTAMP
		WHERE status = $3 AND started_at < CURRENT_TIMESTAMP - $4::interval`
	interval := fmt.Sprintf("%f seconds", maxAge.Seconds())
	res, err := r.db.ExecContext(ctx, query, models.JobFailed, detail, models.JobRunning, interval)
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
