package identity_test

import (
	"testing"
	"time"

	"github.com/canopytrace/canopytrace/internal/identity"
)

func TestLoadOrCreate_roundTrip(t *testing.T) {
	dir := t.TempDir()

	kp1, err := identity.LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("first LoadOrCreate: %v", err)
	}
	kp2, err := identity.LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("second LoadOrCreate: %v", err)
	}

	if kp1.Identity() != kp2.Identity() {
		t.Errorf("reload changed identity: %q vs %q", kp1.Identity(), kp2.Identity())
	}
}

func TestSignVerify(t *testing.T) {
	kp, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}

	msg := []byte("register_plot|PLOT-001")
	sig := kp.Sign(msg)

	if !kp.Identity().Verify(msg, sig) {
		t.Error("valid signature rejected")
	}
	if kp.Identity().Verify([]byte("tampered"), sig) {
		t.Error("signature over different message accepted")
	}

	other, _ := identity.Generate()
	if other.Identity().Verify(msg, sig) {
		t.Error("signature accepted under wrong identity")
	}
}

func TestTokenIssuer_issueAndVerify(t *testing.T) {
	kp, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	issuer := identity.NewTokenIssuer(kp, "http://localhost:8080", time.Minute)

	tok, err := issuer.Issue(kp.Identity())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := issuer.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Identity != string(kp.Identity()) {
		t.Errorf("claims identity: got %q, want %q", claims.Identity, kp.Identity())
	}
}

func TestTokenIssuer_rejectsGarbage(t *testing.T) {
	kp, _ := identity.Generate()
	issuer := identity.NewTokenIssuer(kp, "http://localhost:8080", time.Minute)

	if _, err := issuer.Verify("not.a.token"); err == nil {
		t.Error("expected error for malformed token")
	}
}
