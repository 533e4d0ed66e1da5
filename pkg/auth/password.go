package auth

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/pbkdf2"
)

const (
	HashAlgorithm  = "pbkdf2-sha512"
	HashIterations = 210000 // OWASP recommendation for PBKDF2-HMAC-SHA512
	HashKeyLength  = 64
	SaltLength     = 32
	MinPasswordLen = 8
)

// PasswordValidationError holds validation error details (internal use only)
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	// Generic message so requirements are not enumerated to clients
	return "invalid password"
}

// StrengthResult is the outcome of ValidateStrength.
// Valid depends only on Errors, never on Score.
type StrengthResult struct {
	Valid       bool
	Score       int
	Errors      []string
	Suggestions []string
}

// HashedPassword is everything needed to verify a password later
type HashedPassword struct {
	Hash       string
	Salt       string
	Algorithm  string
	Iterations int
}

// Common weak passwords to reject
var commonPasswords = map[string]bool{
	"password":     true,
	"password1":    true,
	"password1!":   true,
	"12345678":     true,
	"qwerty":       true,
	"qwerty123":    true,
	"abc123":       true,
	"password123":  true,
	"password123!": true,
	"123456":       true,
	"admin":        true,
	"admin123":     true,
	"letmein":      true,
	"welcome":      true,
	"welcome1!":    true,
	"monkey":       true,
	"dragon":       true,
	"master":       true,
	"123123":       true,
	"passw0rd":     true,
	"p@ssw0rd":     true,
	"shadow":       true,
	"sunshine":     true,
	"princess":     true,
	"starwars":     true,
	"football":     true,
	"trustno1":     true,
}

var commonSubstrings = []string{"password", "admin", "qwerty", "letmein", "welcome"}

var sequences = []string{
	"abcdefghijklmnopqrstuvwxyz",
	"0123456789",
	"qwertyuiop",
	"asdfghjkl",
	"zxcvbnm",
}

// ValidateStrength scores a password and lists hard requirement failures
func ValidateStrength(password string) StrengthResult {
	result := StrengthResult{Errors: []string{}, Suggestions: []string{}}
	length := len([]rune(password))

	if length < MinPasswordLen {
		result.Errors = append(result.Errors, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	} else {
		result.Score += 25
		if length >= 12 {
			result.Score += 10
		} else {
			result.Suggestions = append(result.Suggestions, "use at least 12 characters")
		}
		if length >= 16 {
			result.Score += 5
		}
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	classes := []struct {
		present bool
		err     string
	}{
		{hasUpper, "must contain at least one uppercase letter"},
		{hasLower, "must contain at least one lowercase letter"},
		{hasDigit, "must contain at least one digit"},
		{hasSpecial, "must contain at least one special character"},
	}
	for _, c := range classes {
		if c.present {
			result.Score += 15
		} else {
			result.Errors = append(result.Errors, c.err)
		}
	}

	lower := strings.ToLower(password)
	if commonPasswords[lower] {
		result.Errors = append(result.Errors, "is too common, please choose a more unique password")
		result.Score -= 50
	}
	if hasRepeatedRun(password, 3) {
		result.Score -= 10
		result.Suggestions = append(result.Suggestions, "avoid repeating the same character")
	}
	if hasSequentialRun(lower, 3) {
		result.Score -= 10
		result.Suggestions = append(result.Suggestions, "avoid sequences like abc or 123")
	}
	for _, sub := range commonSubstrings {
		if strings.Contains(lower, sub) {
			result.Score -= 20
			result.Suggestions = append(result.Suggestions, "avoid common words")
			break
		}
	}

	result.Score = max(0, min(100, result.Score))
	result.Valid = len(result.Errors) == 0
	return result
}

// ValidatePassword enforces strong password requirements
func ValidatePassword(password string) error {
	result := ValidateStrength(password)
	if !result.Valid {
		return &PasswordValidationError{Errors: result.Errors}
	}
	return nil
}

func hasRepeatedRun(s string, n int) bool {
	runes := []rune(s)
	run := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

func hasSequentialRun(lower string, n int) bool {
	for i := 0; i+n <= len(lower); i++ {
		chunk := lower[i : i+n]
		for _, seq := range sequences {
			if strings.Contains(seq, chunk) {
				return true
			}
		}
	}
	return false
}

// HashPassword derives a PBKDF2 key with a fresh random salt
func HashPassword(password string) (HashedPassword, error) {
	if password == "" {
		return HashedPassword{}, fmt.Errorf("password cannot be empty")
	}

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return HashedPassword{}, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, HashIterations, HashKeyLength, sha512.New)
	return HashedPassword{
		Hash:       hex.EncodeToString(key),
		Salt:       hex.EncodeToString(salt),
		Algorithm:  HashAlgorithm,
		Iterations: HashIterations,
	}, nil
}

// VerifyPassword recomputes the derived key and compares it in constant time.
// Any decoding problem yields false.
func VerifyPassword(password, hash, salt string, iterations int) bool {
	if iterations <= 0 {
		return false
	}
	expected, err := hex.DecodeString(hash)
	if err != nil || len(expected) == 0 {
		return false
	}
	saltBytes, err := hex.DecodeString(salt)
	if err != nil || len(saltBytes) == 0 {
		return false
	}

	derived := pbkdf2.Key([]byte(password), saltBytes, iterations, len(expected), sha512.New)
	return constantTimeEqual(derived, expected)
}

// constantTimeEqual ORs the XOR of every byte pair so the loop never exits early
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// SecureToken returns a hex string built from length random bytes
func SecureToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("token length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
