package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"aduanet.org/internal/authevents"
	"aduanet.org/internal/company"
	"aduanet.org/internal/ids"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
)

// Service is the server side of the identity contract: account creation,
// password sign-in, token refresh and sign-out, and session lookup.
type Service struct {
	store  Store
	now    func() time.Time
	events *authevents.Broker

	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTokenSecret sets the HS256 signing secret. Required.
func WithTokenSecret(secret string) ServiceOption {
	return func(s *Service) error {
		if strings.TrimSpace(secret) == "" {
			return errors.New("auth: token secret is required")
		}
		s.secret = []byte(secret)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithEvents publishes session lifecycle events to the given broker.
func WithEvents(b *authevents.Broker) ServiceOption {
	return func(s *Service) error {
		s.events = b
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	svc := &Service{
		store:      store,
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.secret) == 0 {
		return nil, errors.New("auth: token secret is required")
	}
	return svc, nil
}

// SignUp registers an account, optionally creating its company, and issues a
// first token pair. New accounts start unverified.
func (s *Service) SignUp(ctx context.Context, email, password, companyName string) (TokenPair, *Profile, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return TokenPair{}, nil, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if len(password) < 8 {
		return TokenPair{}, nil, fmt.Errorf("%w: password too short", ErrInvalidInput)
	}
	if _, err := s.store.Profiles(ctx).FindByEmail(ctx, email); err == nil {
		return TokenPair{}, nil, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return TokenPair{}, nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return TokenPair{}, nil, err
	}

	var companyID string
	if companyName = strings.TrimSpace(companyName); companyName != "" {
		// Seed the company through the mirrored write path so the legacy
		// columns and the settings entry are populated from day one.
		seed := company.PrepareWrite(company.Company{}, company.Patch{DisplayName: &companyName})
		seed["id"] = ids.New()
		row, err := s.store.Companies(ctx).Create(ctx, map[string]any(seed))
		if err != nil {
			return TokenPair{}, nil, err
		}
		companyID, _ = row["id"].(string)
	}

	profile := &Profile{
		ID:            ids.New(),
		Email:         email,
		PasswordHash:  hash,
		Role:          "viewer",
		CompanyID:     companyID,
		EmailVerified: false,
		Status:        "active",
	}
	if err := s.store.Profiles(ctx).Create(ctx, profile); err != nil {
		return TokenPair{}, nil, err
	}

	pair, err := s.mintTokens(ctx, profile)
	if err != nil {
		return TokenPair{}, nil, err
	}
	s.publish(authevents.SignedIn, profile.ID)
	return pair, profile, nil
}

// SignIn authenticates credentials and issues fresh tokens. Every mismatch
// resolves to ErrUnauthorized so callers cannot probe which part failed.
func (s *Service) SignIn(ctx context.Context, email, password string) (TokenPair, *Profile, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrUnauthorized
	}
	profile, err := s.store.Profiles(ctx).FindByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, nil, ErrUnauthorized
	}
	if profile.Status != "active" {
		return TokenPair{}, nil, ErrUnauthorized
	}
	if err := VerifyPassword(profile.PasswordHash, password); err != nil {
		return TokenPair{}, nil, ErrUnauthorized
	}

	pair, err := s.mintTokens(ctx, profile)
	if err != nil {
		return TokenPair{}, nil, err
	}
	s.publish(authevents.SignedIn, profile.ID)
	return pair, profile, nil
}

// Refresh rotates the refresh token and issues new access credentials.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, *Profile, error) {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, nil, ErrInvalidToken
	}

	store := s.store.RefreshTokens(ctx)
	record, err := store.Find(ctx, tokenID)
	if err != nil {
		return TokenPair{}, nil, ErrInvalidToken
	}
	if record.Revoked || s.now().After(record.ExpiresAt) {
		return TokenPair{}, nil, ErrInvalidToken
	}
	if !secureCompareHash(record.TokenHash, secret) {
		_ = store.MarkRevoked(ctx, record.ID)
		return TokenPair{}, nil, ErrInvalidToken
	}

	profile, err := s.store.Profiles(ctx).Find(ctx, record.ProfileID)
	if err != nil {
		return TokenPair{}, nil, ErrInvalidToken
	}

	// Rotate: revoke old, issue new pair.
	if err := store.MarkRevoked(ctx, record.ID); err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := s.mintTokens(ctx, profile)
	if err != nil {
		return TokenPair{}, nil, err
	}
	s.publish(authevents.TokenRefreshed, profile.ID)
	return pair, profile, nil
}

// SignOut revokes every refresh token of the profile owning the presented one
// and announces the sign-out to subscribers.
func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	tokenID, _, err := splitRefreshToken(refreshToken)
	if err != nil {
		return ErrInvalidToken
	}
	store := s.store.RefreshTokens(ctx)
	record, err := store.Find(ctx, tokenID)
	if err != nil {
		return ErrInvalidToken
	}
	if err := store.MarkRevokedByProfile(ctx, record.ProfileID); err != nil {
		return err
	}
	s.publish(authevents.SignedOut, record.ProfileID)
	return nil
}

// SessionFromToken validates the access token and loads its profile.
func (s *Service) SessionFromToken(ctx context.Context, token string) (*Profile, error) {
	claims, err := parseAccessToken(s.secret, token, s.now())
	if err != nil {
		return nil, ErrInvalidToken
	}
	profile, err := s.store.Profiles(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return profile, nil
}

// MarkEmailVerified flips the verification flag on the profile.
func (s *Service) MarkEmailVerified(ctx context.Context, profileID string) error {
	return s.store.Profiles(ctx).SetEmailVerified(ctx, profileID, true)
}

func (s *Service) mintTokens(ctx context.Context, profile *Profile) (TokenPair, error) {
	now := s.now()
	accessToken, accessExp, err := signAccessToken(s.secret, profile.ID, profile.Role, now, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refreshTokenString, refreshRec, err := s.generateRefreshToken(profile.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.RefreshTokens(ctx).Create(ctx, refreshRec); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshTokenString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshRec.ExpiresAt,
	}, nil
}

func (s *Service) generateRefreshToken(profileID string, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	sum := sha256.Sum256([]byte(secret))
	rec := &RefreshToken{
		ID:        tokenID,
		ProfileID: profileID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(s.refreshTTL),
	}
	return tokenID + "." + secret, rec, nil
}

func (s *Service) publish(eventType, profileID string) {
	if s.events == nil {
		return
	}
	s.events.Publish(authevents.Event{Type: eventType, UserID: profileID})
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash string, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
