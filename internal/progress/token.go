package progress

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Token refresh failures use fixed messages clients match on.
var (
	ErrInvalidToken   = errors.New("Invalid token")
	ErrTokenExpired   = errors.New("Token expired")
	ErrRefreshTooSoon = errors.New("More than 30 minutes remain")
)

// MintToken returns a fresh opaque capability token.
func MintToken() string {
	return uuid.NewString()
}

// TokenGrant is returned on successful mint or refresh.
type TokenGrant struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"` // seconds
}

// refreshToken validates old against the state and, inside the trailing
// refresh window, replaces the token with a fresh full-lifetime one.
func (s *JobState) refreshToken(old string, lifetime, window time.Duration, now time.Time) (TokenGrant, error) {
	if s.AuthToken == "" || old != s.AuthToken {
		return TokenGrant{}, ErrInvalidToken
	}
	if now.After(s.AuthTokenExpiresAt) {
		return TokenGrant{}, ErrTokenExpired
	}
	if s.AuthTokenExpiresAt.Sub(now) > window {
		return TokenGrant{}, ErrRefreshTooSoon
	}

	s.AuthToken = MintToken()
	s.AuthTokenExpiresAt = now.Add(lifetime)
	s.touch(now)
	return TokenGrant{
		Token:     s.AuthToken,
		ExpiresIn: int64(lifetime.Seconds()),
	}, nil
}

// validToken reports whether a presented token authenticates the job now.
func (s *JobState) validToken(token string, now time.Time) bool {
	return s.AuthToken != "" && token == s.AuthToken && !now.After(s.AuthTokenExpiresAt)
}
