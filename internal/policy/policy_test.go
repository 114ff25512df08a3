package policy

import (
	"testing"

	"github.com/google/gousb"
)

func id(vendor, product uint16) Identity {
	return Identity{Vendor: gousb.ID(vendor), Product: gousb.ID(product)}
}

func TestAllowList(t *testing.T) {
	f := New(Allow, []string{"0951:*"})

	if !f.IsAllowed(id(0x0951, 0x1666)) {
		t.Error("0951:1666 should be allowed by 0951:*")
	}
	if f.IsAllowed(id(0x0781, 0x5567)) {
		t.Error("0781:5567 should not be allowed")
	}
}

func TestDenyList(t *testing.T) {
	f := New(Deny, []string{"0781:*"})

	if f.IsAllowed(id(0x0781, 0x5567)) {
		t.Error("0781:5567 should be denied")
	}
	if !f.IsAllowed(id(0x0951, 0x1666)) {
		t.Error("0951:1666 should be allowed, it's not on the deny list")
	}
}

func TestAllowAllAdmitsEverything(t *testing.T) {
	f := AllowAll()
	if !f.IsAllowed(id(0xffff, 0xffff)) {
		t.Error("AllowAll should admit any identity")
	}
}

func TestParseIdentity(t *testing.T) {
	got, err := ParseIdentity("0951:1666")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if want := id(0x0951, 0x1666); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}

	if _, err := ParseIdentity("not-an-identity"); err == nil {
		t.Fatal("expected an error for a malformed identity")
	}
	if _, err := ParseIdentity("zzzz:1666"); err == nil {
		t.Fatal("expected an error for a non-hex vendor id")
	}
}

func TestIdentityString(t *testing.T) {
	if got, want := id(0x0951, 0x1666).String(), "0951:1666"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
