package httpapi

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"igrejaportal.org/internal/auth"
)

// CookieConfig names the session cookies shared with the public site.
type CookieConfig struct {
	Access     string
	Refresh    string
	Session    string
	Secure     bool
	SessionTTL time.Duration
}

func (c CookieConfig) withDefaults() CookieConfig {
	if c.Access == "" {
		c.Access = "portal-access-token"
	}
	if c.Refresh == "" {
		c.Refresh = "portal-refresh-token"
	}
	if c.Session == "" {
		c.Session = "portal-session"
	}
	return c
}

// Sessions attaches the presented credentials to the request context and
// writes rotated tokens back as cookies before the response starts.
func Sessions(next http.Handler, cfg CookieConfig) http.Handler {
	cfg = cfg.withDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := &auth.Session{
			AccessToken:  cookieValue(r, cfg.Access),
			RefreshToken: cookieValue(r, cfg.Refresh),
			SessionToken: cookieValue(r, cfg.Session),
		}
		if token := extractBearerToken(r.Header.Get("Authorization")); token != "" {
			sess.AccessToken = token
		}
		rw := &rotatingWriter{ResponseWriter: w, sess: sess, cfg: cfg}
		next.ServeHTTP(rw, r.WithContext(auth.ContextWithSession(r.Context(), sess)))
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

type rotatingWriter struct {
	http.ResponseWriter
	sess *auth.Session
	cfg  CookieConfig
	once sync.Once
}

func (w *rotatingWriter) WriteHeader(code int) {
	w.once.Do(w.writeCookies)
	w.ResponseWriter.WriteHeader(code)
}

func (w *rotatingWriter) Write(b []byte) (int, error) {
	w.once.Do(w.writeCookies)
	return w.ResponseWriter.Write(b)
}

func (w *rotatingWriter) writeCookies() {
	t, ok := w.sess.Rotated()
	if !ok {
		return
	}
	h := w.ResponseWriter
	http.SetCookie(h, w.cookie(w.cfg.Access, t.AccessToken, t.Expiry))
	if t.RefreshToken != "" {
		http.SetCookie(h, w.cookie(w.cfg.Refresh, t.RefreshToken, time.Time{}))
	}
	if t.SessionToken != "" {
		var exp time.Time
		if w.cfg.SessionTTL > 0 {
			exp = time.Now().Add(w.cfg.SessionTTL)
		}
		http.SetCookie(h, w.cookie(w.cfg.Session, t.SessionToken, exp))
	}
}

func (w *rotatingWriter) cookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   w.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
