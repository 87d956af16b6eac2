package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	m := NewManager("top-secret", time.Hour)
	token, err := m.Mint(7, "alice", RoleAdmin)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != 7 || claims.Name != "alice" || claims.Role != RoleAdmin {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	m := NewManager("top-secret", time.Hour)
	token, err := m.Mint(1, "owner", RoleOwner)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	payload, sig, _ := strings.Cut(token, ".")

	cases := map[string]string{
		"no separator":      payload,
		"empty signature":   payload + ".",
		"empty payload":     "." + sig,
		"flipped signature": payload + "." + sig[:len(sig)-1] + "A",
		"swapped payload":   strings.Repeat("x", len(payload)) + "." + sig,
		"garbage":           "not-a-token",
	}
	for name, bad := range cases {
		if _, err := m.Verify(bad); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewManager("secret-a", time.Hour).Mint(1, "a", RoleModerator)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := NewManager("secret-b", time.Hour).Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := NewManager("top-secret", time.Hour)
	token, err := m.Mint(1, "a", RoleModerator)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := m.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("err = %v, want ErrExpiredToken", err)
	}
}

func TestRoleAtLeast(t *testing.T) {
	for _, tc := range []struct {
		role, min string
		want      bool
	}{
		{RoleOwner, RoleOwner, true},
		{RoleOwner, RoleModerator, true},
		{RoleAdmin, RoleOwner, false},
		{RoleAdmin, RoleModerator, true},
		{RoleModerator, RoleAdmin, false},
		{"intruder", RoleModerator, false},
		{RoleOwner, "intruder", false},
	} {
		if got := RoleAtLeast(tc.role, tc.min); got != tc.want {
			t.Errorf("RoleAtLeast(%q, %q) = %v, want %v", tc.role, tc.min, got, tc.want)
		}
	}
}

func TestValidRole(t *testing.T) {
	for _, role := range []string{RoleOwner, RoleAdmin, RoleModerator} {
		if !ValidRole(role) {
			t.Errorf("ValidRole(%q) = false", role)
		}
	}
	if ValidRole("superuser") {
		t.Error("ValidRole accepted an unknown role")
	}
}
