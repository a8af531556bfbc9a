package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Dan9191/user-service/internal/common"
	"github.com/Dan9191/user-service/internal/integrations/google"
	"github.com/Dan9191/user-service/internal/models"
	"github.com/Dan9191/user-service/internal/repository"
	"github.com/Dan9191/user-service/internal/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// TokenVerifier resolves an external-identity token to a verified identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*google.Identity, error)
}

// Service handles business logic
type Service struct {
	repo     repository.Repository
	verifier TokenVerifier
	log      *logrus.Logger
}

// NewService initializes a new service
func NewService(repo repository.Repository, verifier TokenVerifier, log *logrus.Logger) *Service {
	return &Service{repo: repo, verifier: verifier, log: log}
}

// CreateUserRequest carries either direct credentials or an external-identity token.
type CreateUserRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	Password    string `json:"password,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Phone       string `json:"phone,omitempty"`
	GoogleToken string `json:"google_token,omitempty"`
}

// CreateUser registers a user. With a google_token it resolves the external
// identity and returns the existing user for that email unchanged, creating
// one only if absent. Without a token it creates a user from direct
// credentials. The returned bool reports whether a new user was created.
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (*models.User, bool, error) {
	if req.GoogleToken != "" {
		if req.Password != "" {
			return nil, false, fmt.Errorf("%w: password and google_token are mutually exclusive", common.ErrValidation)
		}
		return s.resolveExternal(ctx, req)
	}
	return s.createDirect(ctx, req)
}

func (s *Service) resolveExternal(ctx context.Context, req CreateUserRequest) (*models.User, bool, error) {
	identity, err := s.verifier.Verify(ctx, req.GoogleToken)
	if err != nil {
		return nil, false, fmt.Errorf("%w: google token: %v", common.ErrValidation, err)
	}

	// Idempotent auto-registration: an existing user is returned as-is,
	// profile fields untouched.
	existing, err := s.repo.FindUserByEmail(ctx, identity.Email)
	if err == nil {
		s.log.Infof("External identity resolved to existing user %s", existing.ID)
		return existing, false, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, false, err
	}

	username := req.Username
	if username == "" {
		username = identity.Email
		if i := strings.IndexByte(identity.Email, '@'); i > 0 {
			username = identity.Email[:i]
		}
	}
	fullName := req.FullName
	if fullName == "" {
		fullName = identity.FullName
	}
	avatarURL := req.AvatarURL
	if avatarURL == "" {
		avatarURL = identity.AvatarURL
	}

	user := &models.User{
		ID:        uuid.New(),
		Email:     identity.Email,
		Username:  username,
		FullName:  fullName,
		AvatarURL: avatarURL,
		Phone:     req.Phone,
		Credentials: models.Credentials{
			Kind:       models.CredentialExternal,
			ExternalID: identity.Subject,
		},
	}
	user.Fingerprint = utils.Fingerprint(user.FingerprintFields()...)

	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, common.ErrConflict) {
			// Lost a race with a concurrent auto-registration for the
			// same email; return whoever won.
			if winner, findErr := s.repo.FindUserByEmail(ctx, identity.Email); findErr == nil {
				return winner, false, nil
			}
			return nil, false, err
		}
		return nil, false, err
	}

	s.log.Infof("User auto-registered via external identity: %s", user.Email)
	return user, true, nil
}

func (s *Service) createDirect(ctx context.Context, req CreateUserRequest) (*models.User, bool, error) {
	if req.Email == "" {
		return nil, false, fmt.Errorf("%w: email is required", common.ErrValidation)
	}
	if req.Username == "" {
		return nil, false, fmt.Errorf("%w: username is required", common.ErrValidation)
	}

	// Fail fast on uniqueness before attempting any write. The repository
	// constraint still backstops races.
	if _, err := s.repo.FindUserByEmail(ctx, req.Email); err == nil {
		return nil, false, fmt.Errorf("email %w", common.ErrConflict)
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, false, err
	}
	if _, err := s.repo.FindUserByUsername(ctx, req.Username); err == nil {
		return nil, false, fmt.Errorf("username %w", common.ErrConflict)
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, false, err
	}

	creds := models.Credentials{Kind: models.CredentialNone}
	if req.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, false, fmt.Errorf("failed to hash password: %w", err)
		}
		creds = models.Credentials{Kind: models.CredentialLocal, PasswordHash: string(hashed)}
	}

	user := &models.User{
		ID:          uuid.New(),
		Email:       req.Email,
		Username:    req.Username,
		FullName:    req.FullName,
		AvatarURL:   req.AvatarURL,
		Phone:       req.Phone,
		Credentials: creds,
	}
	user.Fingerprint = utils.Fingerprint(user.FingerprintFields()...)

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, false, err
	}

	s.log.Infof("User registered: %s", user.Email)
	return user, true, nil
}

// GetUser fetches a user. When clientFingerprint matches the current state
// the entity is withheld and notModified is true (cache-valid short-circuit).
func (s *Service) GetUser(ctx context.Context, id uuid.UUID, clientFingerprint string) (*models.User, bool, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if clientFingerprint != "" && clientFingerprint == user.Fingerprint {
		return nil, true, nil
	}
	return user, false, nil
}

// ListUsers returns a page of users and the total match count.
func (s *Service) ListUsers(ctx context.Context, f repository.UserFilter) ([]*models.User, int, error) {
	f.Limit, f.Offset = ClampPage(f.Limit, f.Offset)
	return s.repo.ListUsers(ctx, f)
}

// UserPatch carries a full or partial user update; nil fields keep their
// current values.
type UserPatch struct {
	Email     *string `json:"email,omitempty"`
	Username  *string `json:"username,omitempty"`
	Password  *string `json:"password,omitempty"`
	FullName  *string `json:"full_name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

// UpdateUser applies patch under the optimistic-concurrency guard: the write
// happens only if precondition still matches the stored fingerprint.
func (s *Service) UpdateUser(ctx context.Context, id uuid.UUID, precondition string, patch UserPatch) (*models.User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if precondition != user.Fingerprint {
		return nil, common.ErrPreconditionFailed
	}

	if patch.Email != nil {
		if *patch.Email == "" {
			return nil, fmt.Errorf("%w: email must not be empty", common.ErrValidation)
		}
		if *patch.Email != user.Email {
			if _, err := s.repo.FindUserByEmail(ctx, *patch.Email); err == nil {
				return nil, fmt.Errorf("email %w", common.ErrConflict)
			} else if !errors.Is(err, common.ErrNotFound) {
				return nil, err
			}
		}
		user.Email = *patch.Email
	}
	if patch.Username != nil {
		if *patch.Username == "" {
			return nil, fmt.Errorf("%w: username must not be empty", common.ErrValidation)
		}
		if *patch.Username != user.Username {
			if _, err := s.repo.FindUserByUsername(ctx, *patch.Username); err == nil {
				return nil, fmt.Errorf("username %w", common.ErrConflict)
			} else if !errors.Is(err, common.ErrNotFound) {
				return nil, err
			}
		}
		user.Username = *patch.Username
	}
	if patch.Password != nil {
		if user.Credentials.Kind == models.CredentialExternal {
			return nil, fmt.Errorf("%w: externally linked users have no password", common.ErrValidation)
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(*patch.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.Credentials = models.Credentials{Kind: models.CredentialLocal, PasswordHash: string(hashed)}
	}
	if patch.FullName != nil {
		user.FullName = *patch.FullName
	}
	if patch.AvatarURL != nil {
		user.AvatarURL = *patch.AvatarURL
	}
	if patch.Phone != nil {
		user.Phone = *patch.Phone
	}

	user.Fingerprint = utils.Fingerprint(user.FingerprintFields()...)
	if err := s.repo.UpdateUser(ctx, user, precondition); err != nil {
		return nil, err
	}

	s.log.Infof("User updated: %s", user.ID)
	return user, nil
}

// DeleteUser removes the user and all owned addresses atomically.
func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	removed, err := s.repo.DeleteUserCascade(ctx, id)
	if err != nil {
		return err
	}
	s.log.Infof("User %s deleted with %d addresses", id, removed)
	return nil
}

// CreateAddressRequest carries a new address for an existing user.
type CreateAddressRequest struct {
	UserID     uuid.UUID `json:"user_id"`
	Country    string    `json:"country"`
	City       string    `json:"city"`
	Street     string    `json:"street"`
	PostalCode string    `json:"postal_code"`
}

// CreateAddress creates an address after checking the owner exists.
func (s *Service) CreateAddress(ctx context.Context, req CreateAddressRequest) (*models.Address, error) {
	if req.Country == "" || req.City == "" || req.Street == "" || req.PostalCode == "" {
		return nil, fmt.Errorf("%w: country, city, street and postal_code are required", common.ErrValidation)
	}
	if req.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", common.ErrValidation)
	}
	if _, err := s.repo.GetUser(ctx, req.UserID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s does not exist", common.ErrInvalidReference, req.UserID)
		}
		return nil, err
	}

	addr := &models.Address{
		ID:         uuid.New(),
		UserID:     req.UserID,
		Country:    req.Country,
		City:       req.City,
		Street:     req.Street,
		PostalCode: req.PostalCode,
	}
	addr.Fingerprint = utils.Fingerprint(addr.FingerprintFields()...)

	if err := s.repo.CreateAddress(ctx, addr); err != nil {
		return nil, err
	}

	s.log.Infof("Address created for user %s", addr.UserID)
	return addr, nil
}

// GetAddress fetches an address with the same conditional semantics as GetUser.
func (s *Service) GetAddress(ctx context.Context, id uuid.UUID, clientFingerprint string) (*models.Address, bool, error) {
	addr, err := s.repo.GetAddress(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if clientFingerprint != "" && clientFingerprint == addr.Fingerprint {
		return nil, true, nil
	}
	return addr, false, nil
}

// ListAddresses returns a page of addresses and the total match count.
func (s *Service) ListAddresses(ctx context.Context, f repository.AddressFilter) ([]*models.Address, int, error) {
	f.Limit, f.Offset = ClampPage(f.Limit, f.Offset)
	return s.repo.ListAddresses(ctx, f)
}

// AddressPatch carries a partial address update. Ownership is immutable, so
// user_id is deliberately absent.
type AddressPatch struct {
	Country    *string `json:"country,omitempty"`
	City       *string `json:"city,omitempty"`
	Street     *string `json:"street,omitempty"`
	PostalCode *string `json:"postal_code,omitempty"`
}

// UpdateAddress applies patch under the optimistic-concurrency guard.
func (s *Service) UpdateAddress(ctx context.Context, id uuid.UUID, precondition string, patch AddressPatch) (*models.Address, error) {
	addr, err := s.repo.GetAddress(ctx, id)
	if err != nil {
		return nil, err
	}
	if precondition != addr.Fingerprint {
		return nil, common.ErrPreconditionFailed
	}

	apply := func(dst *string, src *string, name string) error {
		if src == nil {
			return nil
		}
		if *src == "" {
			return fmt.Errorf("%w: %s must not be empty", common.ErrValidation, name)
		}
		*dst = *src
		return nil
	}
	if err := apply(&addr.Country, patch.Country, "country"); err != nil {
		return nil, err
	}
	if err := apply(&addr.City, patch.City, "city"); err != nil {
		return nil, err
	}
	if err := apply(&addr.Street, patch.Street, "street"); err != nil {
		return nil, err
	}
	if err := apply(&addr.PostalCode, patch.PostalCode, "postal_code"); err != nil {
		return nil, err
	}

	addr.Fingerprint = utils.Fingerprint(addr.FingerprintFields()...)
	if err := s.repo.UpdateAddress(ctx, addr, precondition); err != nil {
		return nil, err
	}

	s.log.Infof("Address updated: %s", addr.ID)
	return addr, nil
}

// DeleteAddress removes a single address.
func (s *Service) DeleteAddress(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteAddress(ctx, id); err != nil {
		return err
	}
	s.log.Infof("Address deleted: %s", id)
	return nil
}

// ClampPage normalizes pagination inputs: a missing or non-positive limit
// becomes the default page size, oversized limits are capped, negative
// offsets become zero.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
