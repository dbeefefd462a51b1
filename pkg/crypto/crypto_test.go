package crypto

import "testing"

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewEncryptor([]byte("test-key"))
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	ciphertext, err := enc.Encrypt("ya29.a0AfH6SMBx")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if ciphertext == "ya29.a0AfH6SMBx" {
		t.Fatal("ciphertext equals plaintext")
	}
	if !IsEncrypted(ciphertext) {
		t.Error("IsEncrypted() = false for fresh ciphertext")
	}

	plaintext, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plaintext != "ya29.a0AfH6SMBx" {
		t.Errorf("Decrypt() = %q", plaintext)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	enc, err := NewEncryptor([]byte("test-key"))
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	if _, err := enc.Decrypt("not base64!!"); err == nil {
		t.Error("Decrypt() accepted invalid base64")
	}
	if _, err := enc.Decrypt("c2hvcnQ="); err == nil {
		t.Error("Decrypt() accepted truncated ciphertext")
	}
}

func TestIsEncrypted(t *testing.T) {
	if IsEncrypted("") {
		t.Error("IsEncrypted(empty) = true")
	}
	if IsEncrypted("plain-refresh-token") {
		t.Error("IsEncrypted(plaintext) = true")
	}
}
