package security_test

import (
	"testing"

	"github.com/installconnect/escrow-backend/pkg/security"
)

func TestGenerateOTPShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		otp, err := security.GenerateOTP()
		if err != nil {
			t.Fatalf("GenerateOTP returned error: %v", err)
		}
		if len(otp) != security.OTPDigits {
			t.Fatalf("otp %q has length %d, want %d", otp, len(otp), security.OTPDigits)
		}
		for _, r := range otp {
			if r < '0' || r > '9' {
				t.Fatalf("otp %q contains non-digit %q", otp, r)
			}
		}
		seen[otp] = true
	}
	if len(seen) < 2 {
		t.Fatal("GenerateOTP produced the same code every time")
	}
}

func TestHashAndVerifyOTP(t *testing.T) {
	hash, err := security.HashOTP("482913")
	if err != nil {
		t.Fatalf("HashOTP returned error: %v", err)
	}
	if hash == "" {
		t.Fatal("HashOTP returned empty string")
	}

	ok, err := security.VerifyOTP("482913", hash)
	if err != nil {
		t.Fatalf("VerifyOTP returned error for valid hash: %v", err)
	}
	if !ok {
		t.Fatal("VerifyOTP failed for the correct code")
	}

	ok, err = security.VerifyOTP("000000", hash)
	if err != nil {
		t.Fatalf("VerifyOTP returned error for wrong code: %v", err)
	}
	if ok {
		t.Fatal("VerifyOTP accepted the wrong code")
	}
}

func TestVerifyOTPRejectsMalformedHash(t *testing.T) {
	for _, encoded := range []string{"", "not-a-hash", "$argon2id$v=19$garbage"} {
		if _, err := security.VerifyOTP("482913", encoded); err == nil {
			t.Fatalf("VerifyOTP(%q) expected error", encoded)
		}
	}
}
