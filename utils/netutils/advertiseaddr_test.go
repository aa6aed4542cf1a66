package netutils

import (
	"testing"
)

func TestIsInAddrAny(t *testing.T) {
	anyAddrs := []string{"", "0.0.0.0", "::/0"}
	for _, addr := range anyAddrs {
		if !IsInAddrAny(addr) {
			t.Fatalf("%q should be a wildcard address", addr)
		}
	}

	concreteAddrs := []string{"10.0.0.5", "127.0.0.1", "::1"}
	for _, addr := range concreteAddrs {
		if IsInAddrAny(addr) {
			t.Fatalf("%q should not be a wildcard address", addr)
		}
	}
}

func TestGetAdvertiseAddressConcreteBind(t *testing.T) {
	addr, err := GetAdvertiseAddress("10.0.0.5")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if addr != "10.0.0.5" {
		t.Fatalf("concrete bind address should be advertised as-is, got %q", addr)
	}
}
