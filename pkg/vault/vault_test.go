package vault

import (
	"bytes"
	"testing"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(OpenOptions{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRoundTripBytes(t *testing.T) {
	s := openTemp(t)

	val := []byte{0x00, 0xff, 0x10, 0x00, 0x7f}
	if err := s.Set("k", val); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, found, err := s.Get("k")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if !bytes.Equal(got, val) {
		t.Fatalf("round trip not byte-identical: %x != %x", got, val)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTemp(t)
	_, found, err := s.Get("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("missing key reported as found")
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	s := openTemp(t)

	cred := &Credential{
		Address:       "0xAgent",
		PrivateKeyHex: "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
		Label:         "my agent",
	}
	if err := s.PutCredential("0xOWNER", cred); err != nil {
		t.Fatalf("put: %v", err)
	}

	// address keys are case-insensitive
	got, found, err := s.Credential("0xowner")
	if err != nil || !found {
		t.Fatalf("credential: found=%v err=%v", found, err)
	}
	if got.PrivateKeyHex != cred.PrivateKeyHex || got.Label != cred.Label || got.Address != cred.Address {
		t.Fatalf("credential mismatch: %+v", got)
	}

	if err := s.DeleteCredential("0xowner"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := s.Credential("0xowner"); found {
		t.Fatal("credential survived delete")
	}
}

func TestApprovalRecord(t *testing.T) {
	s := openTemp(t)

	if _, found, _ := s.Approval("0xowner"); found {
		t.Fatal("missing approval reported as found")
	}
	if err := s.PutApproval("0xowner", &Approval{Approved: true, Timestamp: 1700000000}); err != nil {
		t.Fatalf("put: %v", err)
	}
	ap, found, err := s.Approval("0xOwner")
	if err != nil || !found {
		t.Fatalf("approval: found=%v err=%v", found, err)
	}
	if !ap.Approved || ap.Timestamp != 1700000000 {
		t.Fatalf("approval mismatch: %+v", ap)
	}
}

func TestParseKey(t *testing.T) {
	hexKey := "0x" + "11" + "22222222222222222222222222222222222222222222222222222222222222"
	b, err := ParseKey(hexKey)
	if err != nil || len(b) != 32 {
		t.Fatalf("hex key: %v len=%d", err, len(b))
	}
	if b2, err := ParseKey(""); err != nil || b2 != nil {
		t.Fatalf("empty key should be nil,nil: %v %v", b2, err)
	}
	if _, err := ParseKey("dG9vLXNob3J0"); err == nil {
		t.Fatal("short base64 key accepted")
	}
}
