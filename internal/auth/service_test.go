package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"aduanet.org/internal/authevents"
)

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *MemStore) {
	t.Helper()
	store := NewMemStore()
	opts = append([]ServiceOption{WithTokenSecret("test-secret")}, opts...)
	svc, err := NewService(store, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func TestNewServiceRequiresSecret(t *testing.T) {
	if _, err := NewService(NewMemStore()); err == nil {
		t.Fatal("expected error without token secret")
	}
}

func TestSignUpCreatesProfileAndCompany(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	pair, profile, err := svc.SignUp(ctx, "Ana@Aduanet.MX", "correct-horse", "Aduanet SA")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if profile.Email != "ana@aduanet.mx" {
		t.Fatalf("expected lowered email, got %q", profile.Email)
	}
	if profile.EmailVerified {
		t.Fatal("new accounts must start unverified")
	}
	if profile.CompanyID == "" {
		t.Fatal("expected company created")
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected token pair")
	}

	row, err := store.Companies(ctx).Find(ctx, profile.CompanyID)
	if err != nil {
		t.Fatalf("company row: %v", err)
	}
	// The seed goes through the mirrored write path.
	if row["display_name"] != "Aduanet SA" || row["nombre_empresa"] != "Aduanet SA" {
		t.Fatalf("company seed not mirrored: %v", row)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.SignUp(ctx, "dup@aduanet.mx", "correct-horse", ""); err != nil {
		t.Fatalf("first SignUp: %v", err)
	}
	if _, _, err := svc.SignUp(ctx, "dup@aduanet.mx", "other-password", ""); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestSignUpValidatesInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.SignUp(ctx, "not-an-email", "correct-horse", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for email, got %v", err)
	}
	if _, _, err := svc.SignUp(ctx, "a@b.mx", "short", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for password, got %v", err)
	}
}

func TestSignInAndSessionFromToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, created, err := svc.SignUp(ctx, "ana@aduanet.mx", "correct-horse", "")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	pair, _, err := svc.SignIn(ctx, "ana@aduanet.mx", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	profile, err := svc.SessionFromToken(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if profile.ID != created.ID {
		t.Fatalf("session resolved wrong profile: %s vs %s", profile.ID, created.ID)
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, _, _ = svc.SignUp(ctx, "ana@aduanet.mx", "correct-horse", "")

	cases := [][2]string{
		{"ana@aduanet.mx", "wrong-password"},
		{"nobody@aduanet.mx", "correct-horse"},
		{"", ""},
	}
	for _, c := range cases {
		if _, _, err := svc.SignIn(ctx, c[0], c[1]); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("credentials %v: expected ErrUnauthorized, got %v", c, err)
		}
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pair, _, err := svc.SignUp(ctx, "ana@aduanet.mx", "correct-horse", "")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	next, _, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("expected rotated refresh token")
	}

	// The old token is revoked by rotation.
	if _, _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked token rejected, got %v", err)
	}
}

func TestRefreshRejectsExpired(t *testing.T) {
	now := time.Now()
	svc, _ := newTestService(t, WithClock(func() time.Time { return now }), WithRefreshTTL(time.Hour))
	ctx := context.Background()

	pair, _, err := svc.SignUp(ctx, "ana@aduanet.mx", "correct-horse", "")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
}

func TestRefreshRejectsTamperedSecret(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pair, _, err := svc.SignUp(ctx, "ana@aduanet.mx", "correct-horse", "")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	id := strings.SplitN(pair.RefreshToken, ".", 2)[0]
	if _, _, err := svc.Refresh(ctx, id+".forged-secret"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected forged token rejected, got %v", err)
	}
}

func TestSignOutRevokesAndPublishes(t *testing.T) {
	broker := authevents.New()
	svc, _ := newTestService(t, WithEvents(broker))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := broker.Subscribe(ctx)

	pair, profile, err := svc.SignUp(ctx, "ana@aduanet.mx", "correct-horse", "")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	drainUntil(t, events, authevents.SignedIn)

	if err := svc.SignOut(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	evt := drainUntil(t, events, authevents.SignedOut)
	if evt.UserID != profile.ID {
		t.Fatalf("expected sign-out for %s, got %s", profile.ID, evt.UserID)
	}

	if _, _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected refresh rejected after sign-out, got %v", err)
	}
}

func drainUntil(t *testing.T, events <-chan authevents.Event, eventType string) authevents.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case evt := <-events:
			if evt.Type == eventType {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}

func TestMarkEmailVerified(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pair, profile, err := svc.SignUp(ctx, "ana@aduanet.mx", "correct-horse", "")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if err := svc.MarkEmailVerified(ctx, profile.ID); err != nil {
		t.Fatalf("MarkEmailVerified: %v", err)
	}
	got, err := svc.SessionFromToken(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if !got.EmailVerified {
		t.Fatal("expected verification flag set")
	}
}
