package middleware

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stayhub/stayhub-core/internal/pkg/logger"
	"github.com/stayhub/stayhub-core/internal/pkg/response"
)

const (
	HeaderCSRF      = "X-CSRF-Token"
	CodeCSRFInvalid = "CSRF_INVALID"
)

// CSRF issues and checks stateless double-submit tokens of the form
// "<unix expiry>.<nonce>.<mac>".
type CSRF struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCSRF(secret string, ttl time.Duration) *CSRF {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CSRF{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a fresh token.
func (c *CSRF) Issue() (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	payload := strconv.FormatInt(c.now().Add(c.ttl).Unix(), 10) + "." + base64.RawURLEncoding.EncodeToString(nonce)
	return payload + "." + c.sign(payload), nil
}

// Valid reports whether token was issued by c and has not expired.
func (c *CSRF) Valid(token string) bool {
	i := strings.LastIndexByte(token, '.')
	if i <= 0 {
		return false
	}
	payload, mac := token[:i], token[i+1:]
	if !hmac.Equal([]byte(mac), []byte(c.sign(payload))) {
		return false
	}
	expStr, _, ok := strings.Cut(payload, ".")
	if !ok {
		return false
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return false
	}
	return c.now().Unix() < exp
}

func (c *CSRF) sign(payload string) string {
	m := hmac.New(sha256.New, c.secret)
	m.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil))
}

// Protect rejects state-changing requests without a valid token.
func (c *CSRF) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if !c.Valid(r.Header.Get(HeaderCSRF)) {
			logger.LogDebug(r.Context(), "CSRF check failed", "method", r.Method, "path", r.URL.Path)
			response.Forbidden(w, CodeCSRFInvalid, "Invalid or missing CSRF token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
