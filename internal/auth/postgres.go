package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"aduanet.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Profiles(context.Context) ProfileStore  { return &profileStore{db: s.db} }
func (s *PGStore) Companies(context.Context) CompanyStore { return &companyStore{db: s.db} }
func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore {
	return &refreshTokenStore{db: s.db}
}

// Profile store --------------------------------------------------------------
type profileStore struct{ db *sql.DB }

const profileColumns = `id, email, password_hash, role, coalesce(company_id, ''), email_verified, status, created_at, updated_at`

func (s *profileStore) Create(ctx context.Context, p *Profile) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	var companyID any
	if p.CompanyID != "" {
		companyID = p.CompanyID
	}
	_, err := s.db.ExecContext(ctx,
		`insert into profiles(id, email, password_hash, role, company_id, email_verified, status)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.Email, p.PasswordHash, p.Role, companyID, p.EmailVerified, p.Status,
	)
	return err
}

func (s *profileStore) Find(ctx context.Context, id string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+profileColumns+` from profiles where id=$1`, id)
	return scanProfile(row)
}

func (s *profileStore) FindByEmail(ctx context.Context, email string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+profileColumns+` from profiles where email=$1`, email)
	return scanProfile(row)
}

func (s *profileStore) SetEmailVerified(ctx context.Context, id string, verified bool) error {
	res, err := s.db.ExecContext(ctx,
		`update profiles set email_verified=$2, updated_at=now() where id=$1`, id, verified)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *profileStore) SetCompany(ctx context.Context, id, companyID string) error {
	res, err := s.db.ExecContext(ctx,
		`update profiles set company_id=$2, updated_at=now() where id=$1`, id, companyID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanProfile(row *sql.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &p.Role, &p.CompanyID,
		&p.EmailVerified, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Company store --------------------------------------------------------------
//
// Companies keep their raw dual-column shape here; only the client-side
// normalizer collapses canonical and legacy values.
type companyStore struct{ db *sql.DB }

var companyTextColumns = []string{
	"display_name", "nombre_empresa",
	"tax_id", "rfc",
	"country", "pais",
	"address", "direccion",
	"phone", "telefono",
	"website", "sitio_web",
	"logo_url", "logo",
}

func (s *companyStore) Create(ctx context.Context, row map[string]any) (map[string]any, error) {
	id, _ := row["id"].(string)
	if id == "" {
		id = ids.New()
	}
	cols := []string{"id"}
	args := []any{id}
	for _, col := range companyTextColumns {
		if v, ok := row[col].(string); ok {
			cols = append(cols, col)
			args = append(args, v)
		}
	}
	if settings, ok := row["settings"]; ok {
		data, err := json.Marshal(settings)
		if err != nil {
			return nil, fmt.Errorf("marshal settings: %w", err)
		}
		cols = append(cols, "settings")
		args = append(args, data)
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(`insert into companies(%s) values(%s)`,
		strings.Join(cols, ", "), strings.Join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}
	return s.Find(ctx, id)
}

func (s *companyStore) Find(ctx context.Context, id string) (map[string]any, error) {
	query := fmt.Sprintf(
		`select id, %s, settings, created_at, updated_at from companies where id=$1`,
		strings.Join(companyTextColumns, ", "))
	row := s.db.QueryRowContext(ctx, query, id)

	texts := make([]sql.NullString, len(companyTextColumns))
	var (
		rowID     string
		settings  []byte
		createdAt time.Time
		updatedAt time.Time
	)
	dest := []any{&rowID}
	for i := range texts {
		dest = append(dest, &texts[i])
	}
	dest = append(dest, &settings, &createdAt, &updatedAt)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	out := map[string]any{
		"id":         rowID,
		"created_at": createdAt.UTC().Format(time.RFC3339),
		"updated_at": updatedAt.UTC().Format(time.RFC3339),
	}
	for i, col := range companyTextColumns {
		if texts[i].Valid {
			out[col] = texts[i].String
		}
	}
	settingsMap := map[string]any{}
	if len(settings) > 0 {
		_ = json.Unmarshal(settings, &settingsMap)
	}
	out["settings"] = settingsMap
	return out, nil
}

func (s *companyStore) Update(ctx context.Context, id string, patch map[string]any) (map[string]any, error) {
	sets := []string{}
	args := []any{id}
	for _, col := range companyTextColumns {
		if v, ok := patch[col].(string); ok {
			args = append(args, v)
			sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
		}
	}
	if settings, ok := patch["settings"]; ok {
		data, err := json.Marshal(settings)
		if err != nil {
			return nil, fmt.Errorf("marshal settings: %w", err)
		}
		args = append(args, data)
		sets = append(sets, fmt.Sprintf("settings=$%d", len(args)))
	}
	if len(sets) == 0 {
		return s.Find(ctx, id)
	}
	sets = append(sets, "updated_at=now()")

	query := fmt.Sprintf(`update companies set %s where id=$1`, strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return s.Find(ctx, id)
}

// Refresh token store --------------------------------------------------------
type refreshTokenStore struct{ db *sql.DB }

func (s *refreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, profile_id, token_hash, expires_at) values($1,$2,$3,$4)`,
		tok.ID, tok.ProfileID, tok.TokenHash, tok.ExpiresAt,
	)
	return err
}

func (s *refreshTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, profile_id, token_hash, expires_at, created_at, revoked from refresh_tokens where id=$1`, id)
	var tok RefreshToken
	err := row.Scan(&tok.ID, &tok.ProfileID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *refreshTokenStore) MarkRevoked(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `update refresh_tokens set revoked=true where id=$1`, id)
	return err
}

func (s *refreshTokenStore) MarkRevokedByProfile(ctx context.Context, profileID string) error {
	_, err := s.db.ExecContext(ctx, `update refresh_tokens set revoked=true where profile_id=$1`, profileID)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
