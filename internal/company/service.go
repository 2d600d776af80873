package company

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound indicates no companies row matched the requested id.
var ErrNotFound = errors.New("company: not found")

// RowSource is the generic row access the service needs; the remote identity
// service client satisfies it.
type RowSource interface {
	Select(ctx context.Context, table string, filter map[string]string) ([]map[string]any, error)
	Update(ctx context.Context, table string, filter map[string]string, patch map[string]any) ([]map[string]any, error)
}

const table = "companies"

// Service fetches and mutates company records through the normalizer, so
// callers never observe the legacy columns.
type Service struct {
	rows RowSource
}

// NewService wraps a row source.
func NewService(rows RowSource) *Service {
	return &Service{rows: rows}
}

// Fetch loads and normalizes the company with the given id.
func (s *Service) Fetch(ctx context.Context, companyID string) (Company, error) {
	rows, err := s.rows.Select(ctx, table, map[string]string{"id": companyID})
	if err != nil {
		return Company{}, fmt.Errorf("company: fetch %s: %w", companyID, err)
	}
	if len(rows) == 0 {
		return Company{}, ErrNotFound
	}
	return Normalize(rows[0]), nil
}

// Save applies a partial update through the mirrored write path and returns
// the normalized result.
func (s *Service) Save(ctx context.Context, current Company, patch Patch) (Company, error) {
	if current.ID == "" {
		return Company{}, fmt.Errorf("company: save: missing id")
	}
	rec := PrepareWrite(current, patch)
	rows, err := s.rows.Update(ctx, table, map[string]string{"id": current.ID}, map[string]any(rec))
	if err != nil {
		return Company{}, fmt.Errorf("company: save %s: %w", current.ID, err)
	}
	if len(rows) == 0 {
		return Company{}, ErrNotFound
	}
	return Normalize(rows[0]), nil
}
