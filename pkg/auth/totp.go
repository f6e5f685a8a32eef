package auth

import (
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPVerifier implements TwoFactorVerifier with RFC 6238 codes (30s, 6 digits, SHA1)
type TOTPVerifier struct {
	skew uint
}

// NewTOTPVerifier accepts codes up to skew periods before or after now
func NewTOTPVerifier(skew uint) *TOTPVerifier {
	return &TOTPVerifier{skew: skew}
}

func (v *TOTPVerifier) Verify(secret, code string, now time.Time) bool {
	code = strings.TrimSpace(code)
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now.UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      v.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
