package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Dan9191/user-service/internal/common"
	"github.com/Dan9191/user-service/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

func userRow(id uuid.UUID) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "email", "username", "full_name", "avatar_url", "phone",
		"credential_kind", "password_hash", "external_id", "fingerprint", "created_at", "updated_at",
	}).AddRow(id.String(), "a@x.com", "a", "", "", "", "none", "", "", "fp-current", now, now)
}

func testUser(id uuid.UUID) *models.User {
	return &models.User{
		ID:          id,
		Email:       "a@x.com",
		Username:    "a",
		Credentials: models.Credentials{Kind: models.CredentialNone},
		Fingerprint: "fp-new",
	}
}

func TestUpdateUserStaleFingerprint(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	// CAS matches no row, but the row still exists: the fingerprint moved.
	mock.ExpectQuery("UPDATE users").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").WillReturnRows(userRow(id))

	err := repo.UpdateUser(context.Background(), testUser(id), "fp-stale")
	assert.ErrorIs(t, err, common.ErrPreconditionFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserGone(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("UPDATE users").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").WillReturnError(sql.ErrNoRows)

	err := repo.UpdateUser(context.Background(), testUser(id), "fp-stale")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserSuccess(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("UPDATE users").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))

	u := testUser(id)
	require.NoError(t, repo.UpdateUser(context.Background(), u, "fp-current"))
	assert.False(t, u.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserUniqueViolation(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO users").WillReturnError(&pq.Error{Code: "23505"})

	err := repo.CreateUser(context.Background(), testUser(uuid.New()))
	assert.ErrorIs(t, err, common.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserCascadeAtomic(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM addresses").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	removed, err := repo.DeleteUserCascade(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserCascadeRollsBackOnFailure(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	// Addresses are removed, then the user delete fails: everything rolls back.
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM addresses").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM users").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := repo.DeleteUserCascade(context.Background(), id)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserCascadeNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM addresses").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM users").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.DeleteUserCascade(context.Background(), id)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func addressRows(userID uuid.UUID, n int) *sqlmock.Rows {
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "country", "city", "street", "postal_code",
		"fingerprint", "created_at", "updated_at",
	})
	for i := 0; i < n; i++ {
		rows.AddRow(uuid.New().String(), userID.String(), "LV", "Riga", "Brivibas 1", "LV-1001", "fp", now, now)
	}
	return rows
}

func TestListAddressesNoLimitReturnsAll(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID := uuid.New()

	// A zero limit must reach the database as NULL (no limit), never LIMIT 0.
	mock.ExpectQuery("SELECT COUNT").WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("SELECT (.+) FROM addresses").WithArgs(userID, nil, 0).
		WillReturnRows(addressRows(userID, 3))

	addresses, total, err := repo.ListAddresses(context.Background(), AddressFilter{UserID: userID})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, addresses, 3)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersNoLimitReturnsAll(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT COUNT").WithArgs("", "").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT (.+) FROM users").WithArgs("", "", nil, 0).
		WillReturnRows(userRow(id))

	users, total, err := repo.ListUsers(context.Background(), UserFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, users, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJobCompareAndSwap(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 1))
	claimed, err := repo.ClaimJob(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, claimed)

	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 0))
	claimed, err = repo.ClaimJob(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteJobNoLongerRunning(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	now := time.Now()

	// The terminal update misses because the reaper already failed the job;
	// the error names the current status instead of claiming the job is gone.
	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "status", "result", "error", "created_at", "started_at", "completed_at",
		}).AddRow(id.String(), uuid.New().String(), "failed", "", "export worker lost", now, now, now))

	err := repo.CompleteJob(context.Background(), id, "/tmp/export.xml")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrNotFound)
	assert.Contains(t, err.Error(), "failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteJobGone(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").WillReturnError(sql.ErrNoRows)

	err := repo.CompleteJob(context.Background(), uuid.New(), "/tmp/export.xml")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
