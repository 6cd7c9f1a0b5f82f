package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/oreon-chat/oreon/internal/database"
	"github.com/oreon-chat/oreon/internal/types"
)

// Gate resolves the acting user behind a token. Each check builds on the
// previous one: CurrentSuperuser implies CurrentActiveUser implies
// CurrentUser.
type Gate struct {
	repo   database.Repository
	tokens *TokenService
	retry  database.RetryPolicy
}

func NewGate(repo database.Repository, tokens *TokenService, retry database.RetryPolicy) *Gate {
	return &Gate{
		repo:   repo,
		tokens: tokens,
		retry:  retry,
	}
}

// CurrentUser validates token and loads its subject. The user is reloaded on
// every call so role and active changes apply immediately.
func (g *Gate) CurrentUser(ctx context.Context, token string) (types.User, error) {
	claims, err := g.tokens.Validate(token)
	if err != nil {
		return types.User{}, err
	}

	var u database.User
	err = g.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		u, err = g.repo.GetUserById(ctx, claims.UserId)
		return err
	})
	if errors.Is(err, types.ErrNotFound) {
		return types.User{}, fmt.Errorf("%w: user %d no longer exists", types.ErrUnauthenticated, claims.UserId)
	}
	if err != nil {
		return types.User{}, fmt.Errorf("load user: %w", err)
	}

	return u.ToType(), nil
}

func (g *Gate) CurrentActiveUser(ctx context.Context, token string) (types.User, error) {
	u, err := g.CurrentUser(ctx, token)
	if err != nil {
		return types.User{}, err
	}
	if !u.Active {
		return types.User{}, fmt.Errorf("%w: user %d", types.ErrAccountDisabled, u.Id)
	}

	return u, nil
}

func (g *Gate) CurrentSuperuser(ctx context.Context, token string) (types.User, error) {
	u, err := g.CurrentActiveUser(ctx, token)
	if err != nil {
		return types.User{}, err
	}
	if !u.IsSuperuser() {
		return types.User{}, fmt.Errorf("%w: superuser required", types.ErrForbidden)
	}

	return u, nil
}
