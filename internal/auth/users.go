package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/oreon-chat/oreon/internal/database"
	"github.com/oreon-chat/oreon/internal/types"
	"github.com/rs/zerolog"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username must be 3-32 characters of letters, digits, '_', '.' or '-'", types.ErrInvalidInput)
	}
	return nil
}

// UserService owns the account lifecycle: registration, login, profile
// changes and the superuser-only role and activation switches.
type UserService struct {
	repo   database.Repository
	hasher *PasswordHasher
	tokens *TokenService
	retry  database.RetryPolicy
	log    zerolog.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewUserService(repo database.Repository, hasher *PasswordHasher, tokens *TokenService, retry database.RetryPolicy, log zerolog.Logger) *UserService {
	return &UserService{
		repo:   repo,
		hasher: hasher,
		tokens: tokens,
		retry:  retry,
		log:    log,
	}
}

func (s *UserService) Register(ctx context.Context, username, password string) (types.User, error) {
	return s.create(ctx, username, password, types.RoleMember)
}

func (s *UserService) create(ctx context.Context, username, password string, role types.Role) (types.User, error) {
	if err := ValidateUsername(username); err != nil {
		return types.User{}, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return types.User{}, err
	}

	var u database.User
	err = s.retry.Once(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.repo.CreateUser(ctx, database.CreateUserParams{
			Username:     username,
			PasswordHash: hash,
			Role:         string(role),
		})
		return err
	})
	if err != nil {
		return types.User{}, fmt.Errorf("create user: %w", err)
	}

	s.log.Info().Int("user_id", u.Id).Str("username", u.Username).Str("role", u.Role).Msg("user created")
	return u.ToType(), nil
}

// Login verifies the credentials and issues a token. Unknown users and wrong
// passwords fail the same way.
func (s *UserService) Login(ctx context.Context, username, password string) (string, types.User, error) {
	var u database.User
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.repo.GetUserByUsername(ctx, username)
		return err
	})
	if errors.Is(err, types.ErrNotFound) {
		s.hasher.Verify(password, s.dummy())
		return "", types.User{}, fmt.Errorf("%w: invalid credentials", types.ErrUnauthenticated)
	}
	if err != nil {
		return "", types.User{}, fmt.Errorf("load user: %w", err)
	}

	if !s.hasher.Verify(password, u.PasswordHash) {
		s.log.Debug().Str("username", username).Msg("login rejected")
		return "", types.User{}, fmt.Errorf("%w: invalid credentials", types.ErrUnauthenticated)
	}
	if !u.Active {
		return "", types.User{}, fmt.Errorf("%w: user %d", types.ErrAccountDisabled, u.Id)
	}

	token, err := s.tokens.Issue(u.Id, types.Role(u.Role))
	if err != nil {
		return "", types.User{}, err
	}

	return token, u.ToType(), nil
}

// dummy returns a digest compared against when the user does not exist, so
// both failure paths cost one bcrypt comparison.
func (s *UserService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("not-a-real-password")
	})
	return s.dummyHash
}

// UpdateProfile changes the acting user's own handle and/or password. Empty
// values keep the current ones.
func (s *UserService) UpdateProfile(ctx context.Context, acting types.User, username, password string) (types.User, error) {
	var cur database.User
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		cur, err = s.repo.GetUserById(ctx, acting.Id)
		return err
	})
	if err != nil {
		return types.User{}, fmt.Errorf("load user: %w", err)
	}

	params := database.UpdateUserParams{
		UserId:       cur.Id,
		Username:     cur.Username,
		PasswordHash: cur.PasswordHash,
	}
	if username != "" {
		if err := ValidateUsername(username); err != nil {
			return types.User{}, err
		}
		params.Username = username
	}
	if password != "" {
		hash, err := s.hasher.Hash(password)
		if err != nil {
			return types.User{}, err
		}
		params.PasswordHash = hash
	}

	var u database.User
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.repo.UpdateUser(ctx, params)
		return err
	})
	if err != nil {
		return types.User{}, fmt.Errorf("update user: %w", err)
	}

	return u.ToType(), nil
}

func requireSuperuser(acting types.User) error {
	if !acting.Active || !acting.IsSuperuser() {
		return fmt.Errorf("%w: superuser required", types.ErrForbidden)
	}
	return nil
}

// SetRole changes the role of targetId. A superuser cannot demote themself.
func (s *UserService) SetRole(ctx context.Context, acting types.User, targetId int, role types.Role) (types.User, error) {
	if err := requireSuperuser(acting); err != nil {
		return types.User{}, err
	}
	if !role.Valid() {
		return types.User{}, fmt.Errorf("%w: unknown role %q", types.ErrInvalidInput, role)
	}
	if targetId == acting.Id && role != types.RoleSuperuser {
		return types.User{}, fmt.Errorf("%w: superuser cannot demote themself", types.ErrInvariantViolation)
	}

	var u database.User
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.repo.SetUserRole(ctx, targetId, string(role))
		return err
	})
	if err != nil {
		return types.User{}, fmt.Errorf("set role: %w", err)
	}

	s.log.Info().Int("user_id", targetId).Str("role", string(role)).Int("by", acting.Id).Msg("role changed")
	return u.ToType(), nil
}

// SetActive enables or disables targetId. A superuser cannot deactivate
// themself.
func (s *UserService) SetActive(ctx context.Context, acting types.User, targetId int, active bool) (types.User, error) {
	if err := requireSuperuser(acting); err != nil {
		return types.User{}, err
	}
	if targetId == acting.Id && !active {
		return types.User{}, fmt.Errorf("%w: superuser cannot deactivate themself", types.ErrInvariantViolation)
	}

	var u database.User
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.repo.SetUserActive(ctx, targetId, active)
		return err
	})
	if err != nil {
		return types.User{}, fmt.Errorf("set active: %w", err)
	}

	s.log.Info().Int("user_id", targetId).Bool("active", active).Int("by", acting.Id).Msg("activation changed")
	return u.ToType(), nil
}

// Bootstrap creates the first superuser. It reports false and does nothing
// when an active superuser already exists.
func (s *UserService) Bootstrap(ctx context.Context, username, password string) (types.User, bool, error) {
	var n int
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.repo.CountSuperusers(ctx)
		return err
	})
	if err != nil {
		return types.User{}, false, fmt.Errorf("count superusers: %w", err)
	}
	if n > 0 {
		return types.User{}, false, nil
	}

	u, err := s.create(ctx, username, password, types.RoleSuperuser)
	if err != nil {
		return types.User{}, false, err
	}

	return u, true, nil
}
