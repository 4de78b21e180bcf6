package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Holdings reports whether a user still owns cards.
type Holdings interface {
	HasCards(ctx context.Context, userID string) (bool, error)
}

// Service resolves token subjects to directory users and administers the
// directory.
type Service struct {
	repo     Repository
	holdings Holdings
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// WithHoldings makes Delete refuse users who still hold cards.
func (s *Service) WithHoldings(h Holdings) *Service {
	s.holdings = h
	return s
}

// Resolve maps a verified token subject and role onto a Principal. The
// token may ask for less than the directory grants, never more.
func (s *Service) Resolve(ctx context.Context, email string, role Role) (Principal, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return Principal{}, err
	}
	if role == RoleAdmin && user.Role != RoleAdmin {
		return Principal{}, ErrRoleNotGranted
	}
	return Principal{UserID: user.ID, Email: user.Email, Role: role}, nil
}

// User returns a directory entry by id.
func (s *Service) User(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// Ensure returns the user with the given email, creating it if absent.
func (s *Service) Ensure(ctx context.Context, email, fullName string, role Role) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, fmt.Errorf("email is required")
	}
	if role != RoleUser && role != RoleAdmin {
		return User{}, fmt.Errorf("unknown role %q", role)
	}

	if user, err := s.repo.FindByEmail(ctx, email); err == nil {
		return user, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	user := User{
		ID:        uuid.New().String(),
		Email:     email,
		FullName:  fullName,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, ErrUserExists) {
			return s.repo.FindByEmail(ctx, email)
		}
		return User{}, err
	}
	return user, nil
}

func requireAdmin(p Principal) error {
	if !p.IsAdmin() {
		return fmt.Errorf("%w: admin role required", ErrAccessDenied)
	}
	return nil
}

func requireSelfOrAdmin(p Principal, id string) error {
	if p.IsAdmin() || p.Owns(id) {
		return nil
	}
	return fmt.Errorf("%w: user %s", ErrAccessDenied, id)
}

// ListAll returns the whole directory. Admin only.
func (s *Service) ListAll(ctx context.Context, p Principal) ([]User, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	res, err := s.repo.List(ctx, Page{})
	if err != nil {
		return nil, err
	}
	return res.Users, nil
}

// List pages through the directory. Admin only.
func (s *Service) List(ctx context.Context, p Principal, page Page) (UserPage, error) {
	if err := requireAdmin(p); err != nil {
		return UserPage{}, err
	}
	return s.repo.List(ctx, page.Normalize())
}

// Get returns one user to an admin or to the user themselves.
func (s *Service) Get(ctx context.Context, p Principal, id string) (User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err := requireSelfOrAdmin(p, id); err != nil {
		return User{}, err
	}
	return user, nil
}

// UpdateInput carries profile changes. Empty fields are left as they are.
type UpdateInput struct {
	Email    string
	FullName string
	Role     Role
}

// Update changes a profile. Users may edit their own entry; only admins
// may change a role, and a role sent by anyone else is ignored.
func (s *Service) Update(ctx context.Context, p Principal, id string, in UpdateInput) (User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err := requireSelfOrAdmin(p, id); err != nil {
		return User{}, err
	}

	if email := strings.ToLower(strings.TrimSpace(in.Email)); email != "" {
		user.Email = email
	}
	if name := strings.TrimSpace(in.FullName); name != "" {
		user.FullName = name
	}
	if in.Role != "" && p.IsAdmin() {
		if in.Role != RoleUser && in.Role != RoleAdmin {
			return User{}, fmt.Errorf("unknown role %q", in.Role)
		}
		user.Role = in.Role
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Delete removes a user. Admin only; operators cannot remove themselves
// and users holding cards are kept.
func (s *Service) Delete(ctx context.Context, p Principal, id string) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if strings.EqualFold(user.Email, p.Email) {
		return ErrSelfDelete
	}
	if s.holdings != nil {
		has, err := s.holdings.HasCards(ctx, id)
		if err != nil {
			return err
		}
		if has {
			return ErrUserHasCards
		}
	}
	return s.repo.Delete(ctx, id)
}
