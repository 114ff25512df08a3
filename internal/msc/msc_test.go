package msc

import (
	"bytes"
	"testing"
)

func TestCBWRoundTrip(t *testing.T) {
	cbw := CBW{
		Tag:           0x12345678,
		DataLength:    512,
		Flags:         DirectionIn,
		LUN:           0,
		CommandLength: 10,
	}
	copy(cbw.Command[:], []byte{0x28, 0, 0, 0, 0, 1, 0, 0, 1, 0})

	buf := cbw.Marshal()
	if len(buf) != cbwLength {
		t.Fatalf("Marshal produced %d bytes, want %d", len(buf), cbwLength)
	}

	got, err := UnmarshalCBW(buf)
	if err != nil {
		t.Fatalf("UnmarshalCBW: %s", err)
	}
	if got != cbw {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, cbw)
	}
}

func TestCBWRejectsBadSignature(t *testing.T) {
	buf := make([]byte, cbwLength)
	if _, err := UnmarshalCBW(buf); err == nil {
		t.Fatal("expected an error for a zeroed buffer (bad signature)")
	}
}

func TestCBWRejectsWrongLength(t *testing.T) {
	if _, err := UnmarshalCBW(make([]byte, 10)); err == nil {
		t.Fatal("expected an error for a short buffer")
	}
}

func TestCSWRoundTrip(t *testing.T) {
	csw := CSW{Tag: 0xdeadbeef, Residue: 0, Status: StatusPassed}

	buf := csw.Marshal()
	if len(buf) != cswLength {
		t.Fatalf("Marshal produced %d bytes, want %d", len(buf), cswLength)
	}

	got, err := UnmarshalCSW(buf)
	if err != nil {
		t.Fatalf("UnmarshalCSW: %s", err)
	}
	if got != csw {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, csw)
	}
}

func TestCSWStatusValues(t *testing.T) {
	for _, status := range []CSWStatus{StatusPassed, StatusFailed, StatusPhaseError} {
		csw := CSW{Tag: 1, Status: status}
		got, err := UnmarshalCSW(csw.Marshal())
		if err != nil {
			t.Fatalf("UnmarshalCSW: %s", err)
		}
		if got.Status != status {
			t.Fatalf("got status %d, want %d", got.Status, status)
		}
	}
}

func TestCBWSignatureBytes(t *testing.T) {
	cbw := CBW{Tag: 1, CommandLength: 1}
	buf := cbw.Marshal()
	if !bytes.Equal(buf[0:4], []byte{'U', 'S', 'B', 'C'}) {
		t.Fatalf("CBW signature bytes = % x, want USBC", buf[0:4])
	}
}
