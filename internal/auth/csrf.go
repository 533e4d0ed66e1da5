package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// CSRF rejection reasons, one per failed check
const (
	CSRFReasonMissingOrigin      = "missing_origin"
	CSRFReasonOriginMismatch     = "origin_mismatch"
	CSRFReasonMissingHeaderToken = "missing_header_token"
	CSRFReasonMissingCookieToken = "missing_cookie_token"
	CSRFReasonTokenMismatch      = "token_mismatch"
	CSRFReasonInvalidToken       = "invalid_token"
	CSRFReasonTokenExpired       = "token_expired"
)

var (
	ErrCSRFTokenInvalid = errors.New("csrf token invalid")
	ErrCSRFTokenExpired = errors.New("csrf token expired")
)

const csrfRandomBytes = 32

// CSRFConfig holds double-submit settings
type CSRFConfig struct {
	Secret       string
	MaxAge       time.Duration
	CookieName   string
	HeaderName   string
	TrustedHosts []string // extra Origin hosts accepted besides the request host
	Cookie       CookieConfig
}

// CSRFTokenManager issues and checks stateless HMAC-signed CSRF tokens of
// the form random.timestamp.signature
type CSRFTokenManager struct {
	secret       []byte
	maxAge       time.Duration
	cookieName   string
	headerName   string
	trustedHosts map[string]struct{}
	cookie       CookieConfig
	now          func() time.Time
}

// NewCSRFTokenManager creates a new CSRF token manager
func NewCSRFTokenManager(cfg CSRFConfig) *CSRFTokenManager {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "_csrf"
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = "x-csrf-token"
	}

	trusted := make(map[string]struct{}, len(cfg.TrustedHosts))
	for _, h := range cfg.TrustedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			trusted[h] = struct{}{}
		}
	}

	return &CSRFTokenManager{
		secret:       []byte(cfg.Secret),
		maxAge:       cfg.MaxAge,
		cookieName:   cfg.CookieName,
		headerName:   cfg.HeaderName,
		trustedHosts: trusted,
		cookie:       cfg.Cookie,
		now:          time.Now,
	}
}

// SetClock overrides the time source
func (m *CSRFTokenManager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *CSRFTokenManager) CookieName() string { return m.cookieName }

func (m *CSRFTokenManager) HeaderName() string { return m.headerName }

func (m *CSRFTokenManager) MaxAge() time.Duration { return m.maxAge }

func (m *CSRFTokenManager) sign(random, timestamp string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(random + "." + timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// GenerateToken creates a new signed token
func (m *CSRFTokenManager) GenerateToken() (string, error) {
	randomBytes := make([]byte, csrfRandomBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}

	random := base64.RawURLEncoding.EncodeToString(randomBytes)
	timestamp := strconv.FormatInt(m.now().UnixMilli(), 10)
	return random + "." + timestamp + "." + m.sign(random, timestamp), nil
}

// ValidateToken checks the token's signature and freshness
func (m *CSRFTokenManager) ValidateToken(token string) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ErrCSRFTokenInvalid
	}

	expected := m.sign(parts[0], parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return ErrCSRFTokenInvalid
	}

	issuedMs, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ErrCSRFTokenInvalid
	}
	age := m.now().Sub(time.UnixMilli(issuedMs))
	if age > m.maxAge {
		return ErrCSRFTokenExpired
	}
	return nil
}

// ValidateRequest runs every double-submit check and returns the first failed reason
func (m *CSRFTokenManager) ValidateRequest(r *http.Request) (string, bool) {
	source := r.Header.Get("Origin")
	if source == "" {
		source = r.Header.Get("Referer")
	}
	if source == "" {
		return CSRFReasonMissingOrigin, false
	}
	if !m.hostAllowed(r, source) {
		return CSRFReasonOriginMismatch, false
	}

	headerToken := r.Header.Get(m.headerName)
	if headerToken == "" {
		return CSRFReasonMissingHeaderToken, false
	}

	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return CSRFReasonMissingCookieToken, false
	}

	if subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookie.Value)) != 1 {
		return CSRFReasonTokenMismatch, false
	}

	switch err := m.ValidateToken(headerToken); {
	case errors.Is(err, ErrCSRFTokenExpired):
		return CSRFReasonTokenExpired, false
	case err != nil:
		return CSRFReasonInvalidToken, false
	}

	return "", true
}

func (m *CSRFTokenManager) hostAllowed(r *http.Request, source string) bool {
	parsed, err := url.Parse(source)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := strings.ToLower(parsed.Host)
	if host == strings.ToLower(r.Host) {
		return true
	}
	_, ok := m.trustedHosts[host]
	return ok
}

// IssueCookie generates a token, sets it as the double-submit cookie and returns it
func (m *CSRFTokenManager) IssueCookie(w http.ResponseWriter) (string, error) {
	token, err := m.GenerateToken()
	if err != nil {
		return "", err
	}
	SetCSRFTokenCookie(w, m.cookieName, token, m.maxAge, m.cookie)
	return token, nil
}
