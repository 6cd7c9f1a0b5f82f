package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"github.com/oreon-chat/oreon/internal/types"
)

const (
	userIdClaim = "user-id"
	roleClaim   = "role"
	iatClaim    = "iat"
	expClaim    = "exp"
	jtiClaim    = "jti"

	DefaultTokenTTL    = 15 * time.Minute
	DefaultTokenLeeway = 5 * time.Second
)

var (
	ErrTokenExpired = fmt.Errorf("%w: token expired", types.ErrUnauthenticated)
	ErrTokenInvalid = fmt.Errorf("%w: token invalid", types.ErrUnauthenticated)
)

type Claims struct {
	UserId    int
	Role      types.Role
	Id        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenService issues and validates HS256 session tokens. It holds no state
// beyond the signing secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
}

type TokenOption func(*TokenService)

func WithLeeway(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d >= 0 {
			s.leeway = d
		}
	}
}

func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewTokenService(secret []byte, ttl time.Duration, opts ...TokenOption) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	s := &TokenService{
		secret: secret,
		ttl:    ttl,
		leeway: DefaultTokenLeeway,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

func (s *TokenService) Issue(userId int, role types.Role) (string, error) {
	if userId <= 0 || !role.Valid() {
		return "", fmt.Errorf("%w: cannot issue token for user %d with role %q", types.ErrInvalidInput, userId, role)
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		roleClaim:   string(role),
		iatClaim:    now.Unix(),
		expClaim:    now.Add(s.ttl).Unix(),
		jtiClaim:    uuid.NewString(),
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// Validate checks the signature and expiry of tokenString. A token is still
// accepted at exp and expires once exp+leeway is reached.
func (s *TokenService) Validate(tokenString string) (Claims, error) {
	parser := jwt.Parser{
		ValidMethods:         []string{jwt.SigningMethodHS256.Alg()},
		SkipClaimsValidation: true,
	}

	token, err := parser.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrTokenInvalid
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrTokenInvalid
	}

	userId, ok := mc[userIdClaim].(float64)
	if !ok || userId <= 0 {
		return Claims{}, ErrTokenInvalid
	}
	role, _ := mc[roleClaim].(string)
	if !types.Role(role).Valid() {
		return Claims{}, ErrTokenInvalid
	}
	exp, ok := mc[expClaim].(float64)
	if !ok {
		return Claims{}, ErrTokenInvalid
	}
	iat, _ := mc[iatClaim].(float64)
	jti, _ := mc[jtiClaim].(string)

	claims := Claims{
		UserId:    int(userId),
		Role:      types.Role(role),
		Id:        jti,
		IssuedAt:  time.Unix(int64(iat), 0),
		ExpiresAt: time.Unix(int64(exp), 0),
	}

	if !s.now().Before(claims.ExpiresAt.Add(s.leeway)) {
		return Claims{}, ErrTokenExpired
	}

	return claims, nil
}
