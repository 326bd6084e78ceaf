package store

import (
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func newTestJWTStore(t *testing.T, revoker TokenRevoker, opts JWTOptions) *JWTSessionStore {
	t.Helper()
	s, err := NewJWTSessionStore(testJWTSecret, time.Minute, revoker, opts)
	if err != nil {
		t.Fatalf("new jwt store: %v", err)
	}
	return s
}

func TestJWTSessionStoreRoundTrip(t *testing.T) {
	s := newTestJWTStore(t, NewMemoryTokenRevoker(), JWTOptions{})

	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	userID, ok, err := s.GetUserIDByToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if !ok || userID != "user-1" {
		t.Fatalf("unexpected verify result: ok=%v userID=%q", ok, userID)
	}
}

func TestJWTSessionStoreRejectsShortSecret(t *testing.T) {
	if _, err := NewJWTSessionStore("short", time.Minute, nil, JWTOptions{}); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestJWTSessionStoreEnforcesAudience(t *testing.T) {
	signing := newTestJWTStore(t, nil, JWTOptions{Issuer: "issuer-a", Audience: "aud-a", Leeway: time.Second})
	verify := newTestJWTStore(t, nil, JWTOptions{Issuer: "issuer-a", Audience: "aud-b", Leeway: time.Second})

	token, err := signing.NewSession("user-claim")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, _, err := verify.GetUserIDByToken(token); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}
}

func TestJWTSessionStoreRevokesByJTI(t *testing.T) {
	s := newTestJWTStore(t, NewMemoryTokenRevoker(), JWTOptions{})

	token, err := s.NewSession("user-revoke")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); err == nil || ok {
		t.Fatalf("expected revoked token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreRejectsOtherAlgorithms(t *testing.T) {
	s := newTestJWTStore(t, nil, JWTOptions{})
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "user-none",
		Issuer:    defaultJWTIssuer,
		Audience:  jwt.ClaimStrings{defaultJWTAudience},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        "jti-none",
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(unsigned); err == nil || ok {
		t.Fatalf("expected alg=none token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreRejectsTamperedToken(t *testing.T) {
	s := newTestJWTStore(t, nil, JWTOptions{})
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", token)
	}
	other := newTestJWTStore(t, nil, JWTOptions{})
	otherToken, err := other.NewSession("user-2")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	otherParts := strings.Split(otherToken, ".")
	forged := parts[0] + "." + otherParts[1] + "." + parts[2]
	if _, ok, err := s.GetUserIDByToken(forged); err == nil || ok {
		t.Fatalf("expected forged token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreDeleteIgnoresGarbage(t *testing.T) {
	s := newTestJWTStore(t, NewMemoryTokenRevoker(), JWTOptions{})
	if err := s.DeleteSession("not-a-token"); err != nil {
		t.Fatalf("expected garbage token to be ignored, got %v", err)
	}
}
