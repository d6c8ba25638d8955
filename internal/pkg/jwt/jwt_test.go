package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestGenerateAndVerify(t *testing.T) {
	key := testKey(t)
	gen := NewGenerator(key, "streaming-platform", "streaming-users", "k1", time.Hour)
	ver := NewVerifier(&key.PublicKey, "streaming-platform", "streaming-users")

	token, jti, err := gen.GenerateAccessToken(42, []string{RoleCreator}, 7)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ver.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.IdentityID != 42 || claims.CreatorID != 7 || claims.ID != jti {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.HasRole(RoleCreator) || claims.IsAdmin() {
		t.Fatalf("role checks wrong for %v", claims.Roles)
	}
}

func TestVerifyRejectsForeignIssuerAndAudience(t *testing.T) {
	key := testKey(t)
	token, _, err := NewGenerator(key, "someone-else", "streaming-users", "", time.Hour).GenerateAccessToken(1, nil, 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewVerifier(&key.PublicKey, "streaming-platform", "streaming-users").Verify(token); err == nil {
		t.Fatalf("expected issuer mismatch")
	}

	token, _, _ = NewGenerator(key, "streaming-platform", "other-app", "", time.Hour).GenerateAccessToken(1, nil, 0)
	if _, err := NewVerifier(&key.PublicKey, "streaming-platform", "streaming-users").Verify(token); err == nil {
		t.Fatalf("expected audience mismatch")
	}
}

func TestVerifyRejectsOtherKey(t *testing.T) {
	token, _, _ := NewGenerator(testKey(t), "iss", "aud", "", time.Hour).GenerateAccessToken(1, nil, 0)
	other := testKey(t)
	if _, err := NewVerifier(&other.PublicKey, "iss", "aud").Verify(token); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func TestLoadAndBuild(t *testing.T) {
	key := testKey(t)
	dir := t.TempDir()

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal pub: %v", err)
	}
	pubPath := filepath.Join(dir, "pub.pem")
	privPath := filepath.Join(dir, "priv.pem")
	if err := os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}), 0o600); err != nil {
		t.Fatal(err)
	}

	verifyOnly, err := LoadAndBuild(Config{PubPath: pubPath, Issuer: "iss", Audience: "aud"})
	if err != nil {
		t.Fatalf("load verifier: %v", err)
	}
	if verifyOnly.Generator != nil {
		t.Fatalf("generator must be nil without a private key")
	}

	m, err := LoadAndBuild(Config{PubPath: pubPath, PrivPath: privPath, Issuer: "iss", Audience: "aud", TTL: time.Minute})
	if err != nil {
		t.Fatalf("load both: %v", err)
	}
	token, _, err := m.Generator.GenerateAccessToken(9, nil, 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := m.Verifier.VerifyAccessToken(token); err != nil {
		t.Fatalf("round trip verify: %v", err)
	}

	if _, err := LoadAndBuild(Config{PubPath: filepath.Join(dir, "missing.pem")}); err == nil {
		t.Fatalf("expected error for missing key")
	}
}
