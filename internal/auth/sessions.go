package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

const SessionCookieName = "tutor_session"

// SessionCodec signs session ids. Browsers carry the signed value in a cookie;
// the mobile app sends it as a bearer token.
type SessionCodec struct {
	secret []byte
}

func NewSessionCodec(secret []byte) SessionCodec {
	return SessionCodec{secret: append([]byte(nil), secret...)}
}

func (c SessionCodec) Encode(sessionID string) string {
	if len(c.secret) == 0 {
		return sessionID
	}
	return sessionID + "." + base64.RawURLEncoding.EncodeToString(c.sign(sessionID))
}

func (c SessionCodec) Decode(value string) (string, bool) {
	if len(c.secret) == 0 {
		return value, value != ""
	}

	id, sigB64, ok := strings.Cut(value, ".")
	if !ok || id == "" || sigB64 == "" {
		return "", false
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil || len(sig) != sha256.Size {
		return "", false
	}
	if subtle.ConstantTimeCompare(sig, c.sign(id)) != 1 {
		return "", false
	}
	return id, true
}

// FromRequest returns the session id from the Authorization header or, failing
// that, the session cookie.
func (c SessionCodec) FromRequest(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", false
		}
		return c.Decode(strings.TrimSpace(value))
	}
	ck, err := r.Cookie(SessionCookieName)
	if err != nil || ck.Value == "" {
		return "", false
	}
	return c.Decode(ck.Value)
}

func (c SessionCodec) sign(id string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	_, _ = mac.Write([]byte(id))
	return mac.Sum(nil)
}

func SetSessionCookie(w http.ResponseWriter, value string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
	})
}

func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}
