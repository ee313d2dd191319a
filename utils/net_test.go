package utils

import "testing"

func TestMACRoundTrip(t *testing.T) {
	const addr = "aa:bb:cc:dd:ee:ff"

	v, err := MACStringToUint64(addr)
	if err != nil {
		t.Fatalf("MACStringToUint64: %v", err)
	}

	if got := MACUint64ToString(v); got != addr {
		t.Fatalf("expected round trip to %q, got %q", addr, got)
	}
}

func TestMACStringToUint64RejectsGarbage(t *testing.T) {
	if _, err := MACStringToUint64("not-a-mac"); err == nil {
		t.Fatalf("expected an error for an invalid MAC string")
	}
}

func TestFormatHostPort(t *testing.T) {
	if got := FormatHostPort("10.0.0.1", 30035); got != "10.0.0.1:30035" {
		t.Fatalf("unexpected host:port, got %q", got)
	}
}
