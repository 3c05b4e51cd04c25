// Package auth provides TOTP helpers for automating logins behind two-factor
// prompts: a context can expose GenerateTOTP to page scripts so a form can be
// filled with a fresh passcode.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// defaultOpts matches the parameters used by the common authenticator apps.
var defaultOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    6,
	Algorithm: otp.AlgorithmSHA1,
}

// GenerateTOTP returns the current passcode for a base32 secret. Spaces in
// the secret (as often displayed during enrollment) are tolerated.
func GenerateTOTP(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("totp secret cannot be empty")
	}

	passcode, err := totp.GenerateCodeCustom(normalizeSecret(secret), time.Now().UTC(), defaultOpts)
	if err != nil {
		return "", fmt.Errorf("failed to generate totp code: %w", err)
	}
	return passcode, nil
}

// ValidateTOTP reports whether passcode is currently valid for the secret,
// within one period of clock skew.
func ValidateTOTP(passcode, secret string) (bool, error) {
	if secret == "" {
		return false, fmt.Errorf("totp secret cannot be empty")
	}
	if passcode == "" {
		return false, fmt.Errorf("passcode cannot be empty")
	}

	valid, err := totp.ValidateCustom(passcode, normalizeSecret(secret), time.Now().UTC(), defaultOpts)
	if err != nil {
		return false, fmt.Errorf("failed to validate totp code: %w", err)
	}
	return valid, nil
}

func normalizeSecret(secret string) string {
	return strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
}
