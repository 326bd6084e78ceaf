package auth

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

var (
	ErrPasswordTooShort   = errors.New("password must contain at least 8 characters")
	ErrPasswordNumeric    = errors.New("password can't be entirely numeric")
	ErrPasswordCommon     = errors.New("password is too common")
	ErrPasswordSimilar    = errors.New("password is too similar to the username")
	ErrPasswordTooLong    = errors.New("password must be at most 72 bytes")
	errEmptyPasswordInput = errors.New("password required")
)

// commonPasswords is a small deny list of passwords seen in credential stuffing lists.
var commonPasswords = map[string]struct{}{
	"password":   {},
	"password1":  {},
	"12345678":   {},
	"123456789":  {},
	"1234567890": {},
	"qwerty123":  {},
	"qwertyuiop": {},
	"iloveyou":   {},
	"sunshine":   {},
	"princess":   {},
	"football":   {},
	"baseball":   {},
	"welcome1":   {},
	"letmein1":   {},
	"admin123":   {},
	"abc12345":   {},
	"trustno1":   {},
	"passw0rd":   {},
	"superman":   {},
	"11111111":   {},
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errEmptyPasswordInput
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(password, stored string) bool {
	if password == "" || stored == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// ValidatePassword enforces the signup password policy.
// username may be empty when no account context is available.
func ValidatePassword(password, username string) error {
	if len([]rune(password)) < minPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > 72 {
		return ErrPasswordTooLong
	}
	allDigits := true
	for _, r := range password {
		if !unicode.IsDigit(r) {
			allDigits = false
			break
		}
	}
	if allDigits {
		return ErrPasswordNumeric
	}
	lower := strings.ToLower(password)
	if _, ok := commonPasswords[lower]; ok {
		return ErrPasswordCommon
	}
	username = strings.ToLower(strings.TrimSpace(username))
	if username != "" && (lower == username || strings.Contains(lower, username) && len(username) >= len(lower)/2) {
		return ErrPasswordSimilar
	}
	return nil
}
