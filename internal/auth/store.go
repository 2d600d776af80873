package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Profiles(ctx context.Context) ProfileStore
	Companies(ctx context.Context) CompanyStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
}

// ProfileStore manages dashboard accounts.
type ProfileStore interface {
	Create(ctx context.Context, p *Profile) error
	Find(ctx context.Context, id string) (*Profile, error)
	FindByEmail(ctx context.Context, email string) (*Profile, error)
	SetEmailVerified(ctx context.Context, id string, verified bool) error
	SetCompany(ctx context.Context, id, companyID string) error
}

// CompanyStore manages company rows in their raw column shape, legacy columns
// included. Normalization happens client-side in the company package.
type CompanyStore interface {
	Create(ctx context.Context, row map[string]any) (map[string]any, error)
	Find(ctx context.Context, id string) (map[string]any, error)
	Update(ctx context.Context, id string, patch map[string]any) (map[string]any, error)
}

// RefreshTokenStore manages refresh token lifecycle.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	MarkRevoked(ctx context.Context, id string) error
	MarkRevokedByProfile(ctx context.Context, profileID string) error
}
