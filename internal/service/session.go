package service

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kohaku-project/kohaku/internal/apperr"
	"github.com/kohaku-project/kohaku/internal/model"
)

// Token lifetimes. Access tokens are short-lived; refresh tokens carry the
// long tail; bootstrap tokens exist only to mint and revoke keys.
const (
	AccessTTL    = 15 * time.Minute
	RefreshTTL   = 30 * 24 * time.Hour
	BootstrapTTL = 10 * time.Minute

	// ScopeManageKeys is exclusive to bootstrap tokens.
	ScopeManageKeys = "keys:manage"

	// blacklistTTL bounds how long a revoked key id is remembered. Every
	// access token signed for the key has expired well before then.
	blacklistTTL = 30 * time.Minute
)

// SessionService issues and verifies signed, time-bound session tokens. The
// tokens are self-contained (HS256 over subject, key id, scopes, type, iat,
// exp); nothing is persisted. The signing secret is handed in at construction
// with no package-level state.
type SessionService struct {
	secret []byte
	log    *slog.Logger

	// Revoked key ids, so session tokens minted for a revoked key die before
	// their natural expiry. Entries lapse after blacklistTTL.
	mu        sync.RWMutex
	blacklist map[int64]time.Time
}

// sessionClaims is the JWT payload.
type sessionClaims struct {
	Owner     string   `json:"owner"`
	KeyID     int64    `json:"key_id"`
	Scopes    []string `json:"scopes"`
	TokenType string   `json:"token_type"`
	jwt.RegisteredClaims
}

// NewSessionService builds a session service around the given signing secret.
func NewSessionService(secret []byte, log *slog.Logger) (*SessionService, error) {
	if len(secret) == 0 {
		return nil, apperr.New(apperr.ValidationError, "session signing secret must not be empty")
	}
	return &SessionService{
		secret:    secret,
		log:       log,
		blacklist: make(map[int64]time.Time),
	}, nil
}

// Issue signs one token. ttl must be positive. The keys:manage scope is
// rejected on anything but bootstrap tokens.
func (s *SessionService) Issue(owner string, keyID int64, scopes model.Scopes, typ model.TokenType, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", apperr.New(apperr.ValidationError, "token ttl must be positive")
	}
	if typ != model.TokenBootstrap && scopes.Contains(ScopeManageKeys) {
		return "", apperr.New(apperr.Unauthorized,
			"the keys:manage scope is exclusive to the bootstrap key")
	}

	now := time.Now()
	claims := sessionClaims{
		Owner:     owner,
		KeyID:     keyID,
		Scopes:    scopes,
		TokenType: string(typ),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "kohaku",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", apperr.Wrap(apperr.AuthenticationError, "sign session token", err)
	}
	return token, nil
}

// IssueBootstrap mints the short-lived key-management token for the
// configured bootstrap key.
func (s *SessionService) IssueBootstrap() (string, error) {
	return s.Issue("system", -1, model.Scopes{ScopeManageKeys}, model.TokenBootstrap, BootstrapTTL)
}

// IssuePair mints the access/refresh pair returned on login.
func (s *SessionService) IssuePair(owner string, keyID int64, scopes model.Scopes) (*model.TokenResponse, error) {
	access, err := s.Issue(owner, keyID, scopes, model.TokenAccess, AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.Issue(owner, keyID, scopes, model.TokenRefresh, RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &model.TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(AccessTTL.Seconds()),
	}, nil
}

// Verify checks the signature and expiry and returns the authorization
// context. It touches no storage; the only shared state is the revocation
// blacklist.
func (s *SessionService) Verify(token string) (*model.AuthContext, model.TokenType, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, "", apperr.New(apperr.Unauthorized, "session token expired")
		}
		return nil, "", apperr.Wrap(apperr.Unauthorized, "invalid session token", err)
	}
	if !parsed.Valid {
		return nil, "", apperr.New(apperr.Unauthorized, "invalid session token")
	}

	if s.isBlacklisted(claims.KeyID) {
		return nil, "", apperr.New(apperr.Unauthorized,
			"API key previously revoked, request a new key")
	}

	return &model.AuthContext{
		Owner:  claims.Owner,
		KeyID:  claims.KeyID,
		Scopes: claims.Scopes,
	}, model.TokenType(claims.TokenType), nil
}

// BlacklistKey records a revoked key id so its outstanding session tokens are
// denied ahead of expiry.
func (s *SessionService) BlacklistKey(keyID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[keyID] = time.Now().Add(blacklistTTL)
}

func (s *SessionService) isBlacklisted(keyID int64) bool {
	s.sweepExpired()
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blacklist[keyID]
	return ok
}

// sweepExpired drops blacklist entries whose window has lapsed.
func (s *SessionService) sweepExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, expiry := range s.blacklist {
		if expiry.Before(now) {
			delete(s.blacklist, id)
		}
	}
}
