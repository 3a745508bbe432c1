package api

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/dino16m/chainvote-server/internal/data"
)

var ErrUnauthorized = errors.New("UNAUTHORIZED")

type Claims struct {
	Role data.Role `json:"role"`
	jwt.RegisteredClaims
}

type Session struct {
	UserID    string
	Role      data.Role
	TokenID   string
	ExpiresAt time.Time
}

// SessionService issues signed bearer tokens and remembers which ones are
// live, so logging out revokes a token before it expires.
type SessionService struct {
	mutex    *sync.RWMutex
	sessions map[string]Session
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionService(secret []byte, ttl time.Duration) *SessionService {
	return &SessionService{
		mutex:    &sync.RWMutex{},
		sessions: map[string]Session{},
		secret:   secret,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (a *SessionService) Issue(user *data.User) (string, Session, error) {
	now := a.now()
	session := Session{
		UserID:    user.ID.String(),
		Role:      user.Role,
		TokenID:   uuid.NewString(),
		ExpiresAt: now.Add(a.ttl),
	}
	claims := Claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.TokenID,
			Subject:   session.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", Session{}, fmt.Errorf("failed to sign token: %w", err)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.prune(now)
	a.sessions[session.TokenID] = session
	return token, session, nil
}

func (a *SessionService) Validate(token string) (Session, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Session{}, ErrUnauthorized
	}

	a.mutex.RLock()
	session, ok := a.sessions[claims.ID]
	a.mutex.RUnlock()
	if !ok || session.UserID != claims.Subject {
		return Session{}, ErrUnauthorized
	}
	if !a.now().Before(session.ExpiresAt) {
		a.Revoke(session.TokenID)
		return Session{}, ErrUnauthorized
	}
	return session, nil
}

func (a *SessionService) Revoke(tokenID string) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	delete(a.sessions, tokenID)
}

func (a *SessionService) Count() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return len(a.sessions)
}

// prune drops expired sessions; callers hold the write lock.
func (a *SessionService) prune(now time.Time) {
	for id, session := range a.sessions {
		if !now.Before(session.ExpiresAt) {
			delete(a.sessions, id)
		}
	}
}
