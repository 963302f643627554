package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/campusconf/backend/internal/models"
	"github.com/campusconf/backend/internal/webex"
	"github.com/campusconf/backend/pkg/secrets"
)

// Store is the subset of Repository the service needs.
type Store interface {
	GetByPlatformUser(ctx context.Context, platformUser string) (*models.WebexUser, error)
	GetByWebexID(ctx context.Context, webexID string) (*models.WebexUser, error)
	Create(ctx context.Context, u *models.WebexUser) error
	UpdatePassword(ctx context.Context, id int64, enc []byte) error
}

// RemoteDirectory is the subset of the session facade used for account
// provisioning.
type RemoteDirectory interface {
	CreateUser(ctx context.Context, u webex.UserDetails) (webex.Fields, error)
	GetUserInfo(ctx context.Context, webexID string) (webex.Fields, error)
	UpdateUserPassword(ctx context.Context, webexID, password string) error
}

// Service manages the platform-to-remote account mapping. It implements
// webex.CredentialStore, so the session facade can refresh stale passwords
// through it.
type Service struct {
	repo   Store
	box    *secrets.Box
	remote RemoteDirectory
	logger *zap.Logger
}

// NewService creates a user mapping service. The remote directory is wired
// afterwards because the session facade also depends on this service.
func NewService(repo Store, box *secrets.Box, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, box: box, logger: logger}
}

// SetRemote wires the session facade in after construction.
func (s *Service) SetRemote(remote RemoteDirectory) { s.remote = remote }

// Password decrypts a user's remote password.
func (s *Service) Password(user *models.WebexUser) (string, error) {
	return s.box.Open(user.PasswordEnc)
}

// StorePassword persists a freshly generated remote password.
func (s *Service) StorePassword(ctx context.Context, user *models.WebexUser, plaintext string) error {
	enc, err := s.box.Seal(plaintext)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, user.ID, enc); err != nil {
		return err
	}
	user.PasswordEnc = enc
	return nil
}

// EnsureUser returns the remote account for a platform user, provisioning
// one on first use. When the derived username is already taken remotely, the
// existing account is adopted and its password reset to one we know.
func (s *Service) EnsureUser(ctx context.Context, platformUser, email, firstName, lastName string) (*models.WebexUser, error) {
	existing, err := s.repo.GetByPlatformUser(ctx, platformUser)
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", platformUser, err)
	}
	if existing != nil {
		return existing, nil
	}

	webexID := deriveWebexID(email)
	password, err := webex.GeneratePassword()
	if err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}

	_, err = s.remote.CreateUser(ctx, webex.UserDetails{
		WebexID:   webexID,
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		Password:  password,
	})
	if err != nil {
		var svcErr *webex.ServiceError
		if !errors.As(err, &svcErr) || svcErr.ExceptionID != webex.ExceptionUserExists {
			return nil, fmt.Errorf("provision remote account %s: %w", webexID, err)
		}
		// Username taken: adopt the existing account by resetting its
		// password to the one we just generated.
		if _, err := s.remote.GetUserInfo(ctx, webexID); err != nil {
			return nil, fmt.Errorf("adopt remote account %s: %w", webexID, err)
		}
		if err := s.remote.UpdateUserPassword(ctx, webexID, password); err != nil {
			return nil, fmt.Errorf("reset adopted account %s: %w", webexID, err)
		}
		s.logger.Info("adopted existing remote account", zap.String("webex_id", webexID))
	}

	enc, err := s.box.Seal(password)
	if err != nil {
		return nil, err
	}
	user := &models.WebexUser{
		PlatformUser: platformUser,
		Email:        email,
		FirstName:    firstName,
		LastName:     lastName,
		WebexID:      webexID,
		PasswordEnc:  enc,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("persist user mapping: %w", err)
	}
	return user, nil
}

// GetByPlatformUser looks up an existing mapping without provisioning
// anything remotely, or nil.
func (s *Service) GetByPlatformUser(ctx context.Context, platformUser string) (*models.WebexUser, error) {
	return s.repo.GetByPlatformUser(ctx, platformUser)
}

// GetByWebexID looks up a mapping by remote username, or nil.
func (s *Service) GetByWebexID(ctx context.Context, webexID string) (*models.WebexUser, error) {
	return s.repo.GetByWebexID(ctx, webexID)
}

// deriveWebexID builds a remote username from the local-part of an email.
func deriveWebexID(email string) string {
	local := email
	if i := strings.IndexByte(email, '@'); i > 0 {
		local = email[:i]
	}
	return strings.ToLower(strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, local))
}
