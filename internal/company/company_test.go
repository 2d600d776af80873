package company

import (
	"context"
	"testing"
)

func TestNormalizePrecedence(t *testing.T) {
	raw := map[string]any{
		"id":             "co-1",
		"display_name":   "Aduanet SA",     // canonical wins
		"nombre_empresa": "Aduanet Legacy", // ignored
		"rfc":            "ADU010203XYZ",   // legacy wins, canonical absent
		"settings": map[string]any{
			"phone":   "+52 55 1234 5678", // settings wins, both columns absent
			"country": "ignored",          // loses to legacy column below
		},
		"pais": "MX",
	}

	c := Normalize(raw)
	if c.DisplayName != "Aduanet SA" {
		t.Fatalf("display name: %q", c.DisplayName)
	}
	if c.TaxID != "ADU010203XYZ" {
		t.Fatalf("tax id: %q", c.TaxID)
	}
	if c.Phone != "+52 55 1234 5678" {
		t.Fatalf("phone: %q", c.Phone)
	}
	if c.Country != "MX" {
		t.Fatalf("country: %q", c.Country)
	}
	if c.Website != "" || c.Address != "" {
		t.Fatalf("expected empty fallbacks, got website=%q address=%q", c.Website, c.Address)
	}
}

func TestNormalizeIsTotal(t *testing.T) {
	cases := []map[string]any{
		nil,
		{},
		{"display_name": 42, "settings": "not-a-map", "created_at": 99},
		{"settings": map[string]any{"display_name": 7}},
	}
	for i, raw := range cases {
		c := Normalize(raw)
		if c.Settings == nil {
			t.Fatalf("case %d: settings must never be nil", i)
		}
		if c.DisplayName != "" {
			t.Fatalf("case %d: mistyped value leaked: %q", i, c.DisplayName)
		}
	}
}

func TestLegacyRoundTrip(t *testing.T) {
	// A record populated only through the legacy column must normalize to the
	// canonical field, and a patch of that field must land in all three targets.
	raw := map[string]any{"id": "co-2", "nombre_empresa": "Comercial del Norte"}
	c := Normalize(raw)
	if c.DisplayName != "Comercial del Norte" {
		t.Fatalf("legacy value not promoted: %q", c.DisplayName)
	}

	name := "Comercial del Norte SA de CV"
	rec := PrepareWrite(c, Patch{DisplayName: &name})

	if rec["display_name"] != name {
		t.Fatalf("canonical column: %v", rec["display_name"])
	}
	if rec["nombre_empresa"] != name {
		t.Fatalf("legacy column: %v", rec["nombre_empresa"])
	}
	settings, ok := rec["settings"].(map[string]any)
	if !ok {
		t.Fatalf("settings missing: %v", rec["settings"])
	}
	if settings["display_name"] != name {
		t.Fatalf("settings entry: %v", settings["display_name"])
	}
}

func TestPrepareWritePreservesUnpatchedFields(t *testing.T) {
	current := Company{
		ID:          "co-3",
		DisplayName: "Logística MX",
		TaxID:       "LOG990101ABC",
		Settings:    map[string]any{"theme": "dark"},
	}
	phone := "+52 81 9999 0000"
	rec := PrepareWrite(current, Patch{Phone: &phone})

	if rec["display_name"] != "Logística MX" || rec["rfc"] != "LOG990101ABC" {
		t.Fatalf("unpatched fields changed: %v %v", rec["display_name"], rec["rfc"])
	}
	if rec["phone"] != phone || rec["telefono"] != phone {
		t.Fatalf("patched field not mirrored: %v %v", rec["phone"], rec["telefono"])
	}
	settings := rec["settings"].(map[string]any)
	if settings["theme"] != "dark" {
		t.Fatalf("unrelated settings entry lost: %v", settings["theme"])
	}
}

type fakeRows struct {
	selectRows []map[string]any
	selectErr  error
	updated    map[string]any
}

func (f *fakeRows) Select(ctx context.Context, table string, filter map[string]string) ([]map[string]any, error) {
	return f.selectRows, f.selectErr
}

func (f *fakeRows) Update(ctx context.Context, table string, filter map[string]string, patch map[string]any) ([]map[string]any, error) {
	f.updated = patch
	merged := map[string]any{"id": filter["id"]}
	for k, v := range patch {
		merged[k] = v
	}
	return []map[string]any{merged}, nil
}

func TestServiceFetchNormalizes(t *testing.T) {
	rows := &fakeRows{selectRows: []map[string]any{{"id": "co-4", "rfc": "XYZ"}}}
	svc := NewService(rows)

	c, err := svc.Fetch(context.Background(), "co-4")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if c.TaxID != "XYZ" {
		t.Fatalf("expected normalized tax id, got %q", c.TaxID)
	}
}

func TestServiceFetchNotFound(t *testing.T) {
	svc := NewService(&fakeRows{})
	if _, err := svc.Fetch(context.Background(), "absent"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestServiceSaveMirrors(t *testing.T) {
	rows := &fakeRows{}
	svc := NewService(rows)
	name := "Nueva Razón Social"

	c, err := svc.Save(context.Background(), Company{ID: "co-5"}, Patch{DisplayName: &name})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if c.DisplayName != name {
		t.Fatalf("normalized result: %q", c.DisplayName)
	}
	if rows.updated["nombre_empresa"] != name {
		t.Fatalf("legacy mirror missing in write: %v", rows.updated)
	}
}
