package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if got != testKey {
		t.Fatalf("decrypted %s", got)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("wrong password should fail")
	}
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	if _, err := EncryptKey(testKey, ""); err == nil {
		t.Fatal("empty password accepted")
	}
	if _, err := EncryptKey("abcd", "pw"); err == nil {
		t.Fatal("short key accepted")
	}
	if _, err := EncryptKey("zz", "pw"); err == nil {
		t.Fatal("non-hex key accepted")
	}
}

func TestLoadSignerFromFile(t *testing.T) {
	blob, err := EncryptKey(testKey, "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "authority.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}

	fromFile, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := LoadSigner(KeyConfig{RawPrivateKey: testKey, EncryptedKeyPath: "/does/not/exist"})
	if err != nil {
		t.Fatal(err)
	}
	if fromFile.Address() != raw.Address() {
		t.Fatalf("addresses differ: %s vs %s", fromFile.Address(), raw.Address())
	}
	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Fatal("empty config should fail")
	}
}

func TestSignAndRecover(t *testing.T) {
	s, err := NewSigner(testKey)
	if err != nil {
		t.Fatal(err)
	}
	msg := RequestMessage("post", "/api/markets", 1700000000, []byte(`{"milestone_id":"m-1"}`))

	sigHex, err := s.SignRequest("POST", "/api/markets", 1700000000, []byte(`{"milestone_id":"m-1"}`))
	if err != nil {
		t.Fatal(err)
	}
	sig, err := DecodeSignature(sigHex)
	if err != nil {
		t.Fatal(err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("v = %d", sig[64])
	}

	addr, err := RecoverAddress(msg, sig)
	if err != nil {
		t.Fatal(err)
	}
	if addr != s.Address() {
		t.Fatalf("recovered %s, want %s", addr, s.Address())
	}

	// Raw recovery id form.
	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	if addr, err := RecoverAddress(msg, raw); err != nil || addr != s.Address() {
		t.Fatalf("raw v: %s, %v", addr, err)
	}

	// A different body recovers someone else.
	other := RequestMessage("POST", "/api/markets", 1700000000, []byte(`{}`))
	if addr, err := RecoverAddress(other, sig); err == nil && addr == s.Address() {
		t.Fatal("signature should not cover a different body")
	}
}

func TestRecoverAddressRejectsMalformed(t *testing.T) {
	if _, err := RecoverAddress([]byte("x"), make([]byte, 10)); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("short sig: %v", err)
	}
	bad := make([]byte, 65)
	bad[64] = 5
	if _, err := RecoverAddress([]byte("x"), bad); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("bad v: %v", err)
	}
	if _, err := DecodeSignature("0xnothex"); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("bad hex: %v", err)
	}
}

func TestRequestMessageFormat(t *testing.T) {
	got := string(RequestMessage("put", "/api/admin/params", 42, nil))
	want := "PUT /api/admin/params\n42\ne3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != want {
		t.Fatalf("got %q", got)
	}
}
