// Package company reconciles the companies relation, which historically stores
// the same fact under a canonical column, a legacy Spanish-named column, and an
// entry nested in the free-form settings map. Reads collapse the three into one
// canonical shape; writes mirror back into all three so every historical reader
// stays consistent. The mirroring is a compatibility shim kept behind this
// package so a schema migration can drop two of the targets without touching
// callers.
package company

import "time"

// Company is the canonical tenant record consumed by the rest of the system.
type Company struct {
	ID          string
	DisplayName string
	TaxID       string
	Country     string
	Address     string
	Phone       string
	Website     string
	LogoURL     string
	Settings    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	DisplayName *string
	TaxID       *string
	Country     *string
	Address     *string
	Phone       *string
	Website     *string
	LogoURL     *string
}

// WriteRecord is the column set for one mirrored update, keyed by column name.
type WriteRecord map[string]any

// legacyColumns maps each canonical column to its legacy duplicate.
var legacyColumns = map[string]string{
	"display_name": "nombre_empresa",
	"tax_id":       "rfc",
	"country":      "pais",
	"address":      "direccion",
	"phone":        "telefono",
	"website":      "sitio_web",
	"logo_url":     "logo",
}

// Normalize collapses a raw companies row into the canonical shape. It is pure
// and total: any missing or mistyped value falls back to an empty string or
// empty map. Precedence per field: canonical column, then legacy column, then
// the nested settings entry.
func Normalize(raw map[string]any) Company {
	settings := settingsMap(raw)
	pick := func(canonical string) string {
		if v := stringValue(raw[canonical]); v != "" {
			return v
		}
		if v := stringValue(raw[legacyColumns[canonical]]); v != "" {
			return v
		}
		return stringValue(settings[canonical])
	}

	return Company{
		ID:          stringValue(raw["id"]),
		DisplayName: pick("display_name"),
		TaxID:       pick("tax_id"),
		Country:     pick("country"),
		Address:     pick("address"),
		Phone:       pick("phone"),
		Website:     pick("website"),
		LogoURL:     pick("logo_url"),
		Settings:    settings,
		CreatedAt:   timeValue(raw["created_at"]),
		UpdatedAt:   timeValue(raw["updated_at"]),
	}
}

// PrepareWrite merges a patch against the current canonical record and emits a
// write that sets every canonical field, its legacy column, and its settings
// entry to the same value.
func PrepareWrite(current Company, patch Patch) WriteRecord {
	merged := current
	apply(&merged.DisplayName, patch.DisplayName)
	apply(&merged.TaxID, patch.TaxID)
	apply(&merged.Country, patch.Country)
	apply(&merged.Address, patch.Address)
	apply(&merged.Phone, patch.Phone)
	apply(&merged.Website, patch.Website)
	apply(&merged.LogoURL, patch.LogoURL)

	settings := make(map[string]any, len(current.Settings)+len(legacyColumns))
	for k, v := range current.Settings {
		settings[k] = v
	}

	rec := WriteRecord{}
	set := func(canonical, value string) {
		rec[canonical] = value
		rec[legacyColumns[canonical]] = value
		settings[canonical] = value
	}
	set("display_name", merged.DisplayName)
	set("tax_id", merged.TaxID)
	set("country", merged.Country)
	set("address", merged.Address)
	set("phone", merged.Phone)
	set("website", merged.Website)
	set("logo_url", merged.LogoURL)

	rec["settings"] = settings
	rec["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	return rec
}

func apply(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func settingsMap(raw map[string]any) map[string]any {
	if m, ok := raw["settings"].(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return map[string]any{}
}

func timeValue(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
