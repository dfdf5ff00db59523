package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// HeaderCSRFToken carries the token on state-changing admin requests.
	HeaderCSRFToken = "X-CSRF-Token"
	// CookieCSRF is the double-submit cookie name.
	CookieCSRF = "third-eye-csrf"
	// CSRFTokenTTL bounds token age.
	CSRFTokenTTL = time.Hour
)

// CSRF issues and validates double-submit tokens of the form
// token:timestamp:signature, where signature is HMAC-SHA256 over
// "token:timestamp" with a per-process secret.
type CSRF struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCSRF creates a token issuer with a fresh random secret. Tokens do not
// survive process restarts.
func NewCSRF() *CSRF {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("auth: crypto/rand unavailable: " + err.Error())
	}
	return &CSRF{secret: secret, ttl: CSRFTokenTTL, now: time.Now}
}

// WithClock injects a time source for tests.
func (c *CSRF) WithClock(now func() time.Time) *CSRF {
	c.now = now
	return c
}

// Generate mints a new token.
func (c *CSRF) Generate() string {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		panic("auth: crypto/rand unavailable: " + err.Error())
	}
	token := base64.RawURLEncoding.EncodeToString(nonce)
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	return fmt.Sprintf("%s:%s:%s", token, timestamp, c.sign(token, timestamp))
}

// Validate checks the token's structure, age, and signature.
func (c *CSRF) Validate(token string) bool {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return false
	}
	value, timestamp, signature := parts[0], parts[1], parts[2]

	issued, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if c.now().Unix()-issued > int64(c.ttl.Seconds()) {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(c.sign(value, timestamp)))
}

func (c *CSRF) sign(token, timestamp string) string {
	mac := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(mac, "%s:%s", token, timestamp)
	return hex.EncodeToString(mac.Sum(nil))
}
