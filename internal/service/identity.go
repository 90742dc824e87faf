package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sumire/userlink/internal/domain"
	"github.com/sumire/userlink/internal/repository"
)

// IdentityService runs the user and identifier flows, each inside its own
// transaction.
type IdentityService struct {
	users  *repository.UserRepository
	logger *slog.Logger
	now    func() time.Time
}

// IdentityOption configures an IdentityService.
type IdentityOption func(*IdentityService)

// WithNow sets the time source used when marking users verified.
func WithNow(now func() time.Time) IdentityOption {
	return func(s *IdentityService) { s.now = now }
}

// NewIdentityService creates a new IdentityService.
func NewIdentityService(users *repository.UserRepository, logger *slog.Logger, opts ...IdentityOption) *IdentityService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &IdentityService{
		users:  users,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a user from a registration payload. An email that is
// already taken yields domain.ErrConflict.
func (s *IdentityService) Register(ctx context.Context, rc *domain.RegistrationContext) (*domain.User, error) {
	email := strings.TrimSpace(rc.Email())
	if email == "" {
		return nil, &domain.ValidationError{Field: "email", Message: "is required"}
	}
	rc.Set(domain.RegistrationEmail, email)

	var user *domain.User
	err := s.users.WithinTransaction(ctx, func(tx *repository.UserRepository) error {
		exists, err := tx.EmailExists(ctx, email)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: email %s is already registered", domain.ErrConflict, email)
		}

		id, err := tx.Create(ctx, rc)
		if err != nil {
			return err
		}
		user, err = tx.FindUserByID(ctx, id)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("reload user %s: %w", id, domain.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", email, err)
	}

	s.logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

// GetUser returns the user with id.
func (s *IdentityService) GetUser(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.FindUserByID(ctx, id)
	return found(user, err)
}

// FindByEmail returns the user with email.
func (s *IdentityService) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := s.users.FindUserByEmail(ctx, email)
	return found(user, err)
}

// FindByIdentity returns the user actively linked to provider/externalID.
func (s *IdentityService) FindByIdentity(ctx context.Context, provider, externalID string) (*domain.User, error) {
	user, err := s.users.FindUserByIdentity(ctx, provider, externalID)
	return found(user, err)
}

// ListIdentifiers returns the link rows of a user.
func (s *IdentityService) ListIdentifiers(ctx context.Context, userID string, includeDeleted bool) ([]repository.LinkRecord, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.users.ListIdentifiers(ctx, userID, includeDeleted)
}

// LinkIdentifier attaches id to the user, replacing any identifier the user
// holds for the same provider. An identifier actively linked to another
// user yields domain.ErrConflict.
func (s *IdentityService) LinkIdentifier(ctx context.Context, userID string, id domain.Identifier) (*domain.User, error) {
	if !id.Valid() {
		return nil, &domain.ValidationError{Field: "identifier", Message: "provider and id are required"}
	}

	var user *domain.User
	err := s.users.WithinTransaction(ctx, func(tx *repository.UserRepository) error {
		var err error
		user, err = loadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := ensureUnclaimed(ctx, tx, id, userID); err != nil {
			return err
		}

		user.AddIdentifier(id)
		_, err = tx.Update(ctx, user)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("link %s to user %s: %w", id, userID, err)
	}

	s.logger.Info("identifier linked", "user_id", userID, "provider", id.Provider())
	return user, nil
}

// UnlinkIdentifier soft-deletes the user's identifier for provider.
func (s *IdentityService) UnlinkIdentifier(ctx context.Context, userID, provider string) (*domain.User, error) {
	var user *domain.User
	err := s.users.WithinTransaction(ctx, func(tx *repository.UserRepository) error {
		var err error
		user, err = loadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !user.RemoveIdentifier(provider) {
			return fmt.Errorf("%w: no %s identifier", domain.ErrNotFound, provider)
		}
		_, err = tx.Update(ctx, user)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("unlink %s from user %s: %w", provider, userID, err)
	}

	s.logger.Info("identifier unlinked", "user_id", userID, "provider", provider)
	return user, nil
}

// MarkVerified stamps the user as verified. Already verified users keep
// their original timestamp.
func (s *IdentityService) MarkVerified(ctx context.Context, userID string) (*domain.User, error) {
	var user *domain.User
	err := s.users.WithinTransaction(ctx, func(tx *repository.UserRepository) error {
		var err error
		user, err = loadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user.IsVerified() {
			return nil
		}
		now := s.now().UTC().Truncate(time.Second)
		user.VerifiedAt = &now
		_, err = tx.Update(ctx, user)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("verify user %s: %w", userID, err)
	}
	return user, nil
}

// SignIn is an account reported by an identity provider.
type SignIn struct {
	Identifier    domain.Identifier
	Email         string
	EmailVerified bool
	DisplayName   string
}

// ResolveIdentity maps a provider sign-in onto a user inside one
// transaction. It returns the user already linked to the identifier,
// otherwise links the identifier to the user owning the email, otherwise
// creates a new user. created reports the last case.
//
// Linking by email requires a provider-verified email, and fails with
// domain.ErrConflict when the owner already holds a different identifier
// from the same provider. New users with a verified email are created
// verified.
func (s *IdentityService) ResolveIdentity(ctx context.Context, in SignIn) (user *domain.User, created bool, err error) {
	id := in.Identifier
	if !id.Valid() {
		return nil, false, &domain.ValidationError{Field: "identifier", Message: "provider and id are required"}
	}
	email := strings.TrimSpace(in.Email)

	err = s.users.WithinTransaction(ctx, func(tx *repository.UserRepository) error {
		var err error
		user, err = tx.FindUserByIdentity(ctx, id.Provider(), id.ID())
		if err != nil {
			return err
		}
		if user != nil {
			user.AddIdentifier(id)
			_, err = tx.Update(ctx, user)
			return err
		}

		if email == "" {
			return &domain.ValidationError{Field: "email", Message: "provider did not supply an email"}
		}

		user, err = tx.FindUserByEmail(ctx, email)
		if err != nil {
			return err
		}
		if user != nil {
			if err := linkableByEmail(user, id, in.EmailVerified); err != nil {
				return err
			}
			user.AddIdentifier(id)
			_, err = tx.Update(ctx, user)
			return err
		}

		user = &domain.User{Email: email}
		user.SetAdditionalData(nil)
		if in.DisplayName != "" {
			user.DisplayName = &in.DisplayName
		}
		if in.EmailVerified {
			now := s.now().UTC().Truncate(time.Second)
			user.VerifiedAt = &now
		}
		user.AddIdentifier(id)
		if _, err := tx.Save(ctx, user); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("resolve %s: %w", id, err)
	}

	s.logger.Info("identity resolved", "user_id", user.ID, "provider", id.Provider(), "created", created)
	return user, created, nil
}

func linkableByEmail(owner *domain.User, id domain.Identifier, emailVerified bool) error {
	if !emailVerified {
		return fmt.Errorf("%w: email %s belongs to an existing user and is not verified by %s",
			domain.ErrConflict, owner.Email, id.Provider())
	}
	if current, ok := owner.IdentifierByProvider(id.Provider()); ok && current.ID() != id.ID() {
		return fmt.Errorf("%w: user %s is already linked to another %s account",
			domain.ErrConflict, owner.ID, id.Provider())
	}
	return nil
}

func loadUser(ctx context.Context, tx *repository.UserRepository, userID string) (*domain.User, error) {
	user, err := tx.FindUserByID(ctx, userID)
	return found(user, err)
}

func ensureUnclaimed(ctx context.Context, tx *repository.UserRepository, id domain.Identifier, userID string) error {
	owner, err := tx.FindUserByIdentity(ctx, id.Provider(), id.ID())
	if err != nil {
		return err
	}
	if owner != nil && owner.ID != userID {
		return fmt.Errorf("%w: %s is linked to another user", domain.ErrConflict, id)
	}
	return nil
}

func found(user *domain.User, err error) (*domain.User, error) {
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrNotFound
	}
	return user, nil
}
