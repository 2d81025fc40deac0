package crypto

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	const key = "a passphrase that is not hex"

	enc, err := Encrypt("refresh-token-value", key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := Decrypt(enc, key)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "refresh-token-value" {
		t.Fatalf("got %q, want %q", got, "refresh-token-value")
	}
}

func TestEncryptDecryptRoundTripHexKey(t *testing.T) {
	const key = "000102030405060708090a0b0c0d0e0f" // 16 bytes hex => valid AES-128 key

	enc, err := Encrypt("hello", key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := Decrypt(enc, key)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestEncryptionIsNonDeterministic(t *testing.T) {
	const key = "same key used twice"

	a, err := Encrypt("same plaintext", key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := Encrypt("same plaintext", key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct ciphertexts for the same plaintext due to random nonces")
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	enc, err := Encrypt("secret", "key-one")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(enc, "key-two"); err == nil {
		t.Fatal("expected decryption with the wrong key to fail")
	}
}

func TestDecryptMalformedInput(t *testing.T) {
	if _, err := Decrypt("not hex at all!!", "key"); err == nil {
		t.Fatal("expected non-hex input to fail")
	}
	if _, err := Decrypt("ab", "key"); err == nil {
		t.Fatal("expected ciphertext shorter than the nonce to fail")
	}
}
