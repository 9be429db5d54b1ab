package auth

import (
	"errors"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// ErrTOTPInvalid is returned for a wrong or replayed one-time code.
var ErrTOTPInvalid = errors.New("invalid one-time code")

// GenerateTOTPSecret enrolls a new TOTP secret for an account. The
// returned key carries the otpauth URL for provisioning.
func GenerateTOTPSecret(issuer, accountName string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
}

// VerifyTOTP checks a one-time code against the stored secret.
func VerifyTOTP(secret, code string) error {
	if !totp.Validate(code, secret) {
		return ErrTOTPInvalid
	}
	return nil
}
