// smoke-identity exercises the full identity path against a running API:
// sign-up, resolution, route guarding, settings round-trip, sign-out and
// guest fallback.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"aduanet.org/internal/company"
	"aduanet.org/internal/guest"
	"aduanet.org/internal/identity"
	"aduanet.org/internal/kv"
	"aduanet.org/internal/remoteid"
	"aduanet.org/internal/routeguard"
)

func main() {
	base := os.Getenv("ADUANET_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	client := remoteid.New(base)
	local := kv.NewMemory()
	guests := guest.NewStore(local)

	resolver := identity.NewResolver(client, guests)
	guard := routeguard.New(resolver, local, []string{"/login", "/register"})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	email := fmt.Sprintf("smoke-%d@aduanet.mx", rand.Int())
	if _, err := client.SignUp(ctx, email, "correct-horse-battery", "Smoke SA"); err != nil {
		log.Fatalf("sign up: %v", err)
	}

	id := resolver.Resolve(ctx)
	if id == nil {
		log.Fatalf("resolve after sign-up: %v", resolver.LastError())
	}
	if id.Email != email || id.IsGuest() {
		log.Fatalf("unexpected identity: %+v", id)
	}

	decision := guard.Evaluate(ctx, "/declaraciones")
	if decision.State != routeguard.StateAllowed {
		log.Fatalf("expected allowed navigation, got %s (%v)", decision.State, decision.Err)
	}

	// Settings round-trip through the dual-column write path.
	settings := company.NewService(client)
	current, err := settings.Fetch(ctx, id.CompanyID)
	if err != nil {
		log.Fatalf("fetch company: %v", err)
	}
	if current.DisplayName != "Smoke SA" {
		log.Fatalf("unexpected company name: %q", current.DisplayName)
	}
	rfc := "SMO010101ABC"
	updated, err := settings.Save(ctx, current, company.Patch{TaxID: &rfc})
	if err != nil {
		log.Fatalf("save company: %v", err)
	}
	if updated.TaxID != rfc || updated.DisplayName != "Smoke SA" {
		log.Fatalf("settings round-trip failed: %+v", updated)
	}

	// Sign out: the cache is invalidated and the guard falls back to login.
	if err := client.SignOut(ctx); err != nil {
		log.Fatalf("sign out: %v", err)
	}
	resolver.Invalidate()
	if id := resolver.Resolve(ctx); id != nil {
		log.Fatalf("expected no identity after sign-out, got %+v", id)
	}
	guard.Reset()
	decision = guard.Evaluate(ctx, "/declaraciones")
	if decision.State != routeguard.StateRedirectLogin {
		log.Fatalf("expected redirect to login, got %s", decision.State)
	}
	if route, ok := guard.ConsumeLastRoute(ctx); !ok || route != "/declaraciones" {
		log.Fatalf("expected remembered route, got %q (%v)", route, ok)
	}

	// Guest fallback takes precedence over the remote lookup.
	if _, err := guests.Create(ctx); err != nil {
		log.Fatalf("create guest: %v", err)
	}
	resolver.Invalidate()
	guestID := resolver.Resolve(ctx)
	if guestID == nil || !guestID.IsGuest() {
		log.Fatalf("expected guest identity, got %+v", guestID)
	}
	guard.Reset()
	decision = guard.Evaluate(ctx, "/declaraciones")
	if decision.State != routeguard.StateAllowed {
		log.Fatalf("expected guest allowed, got %s", decision.State)
	}

	fmt.Printf("✅ identity smoke test passed: user=%s guest=%s\n", id.ID, guestID.ID)
}
