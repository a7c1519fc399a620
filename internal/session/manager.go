package session

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

// Manager issues session cookies and attaches a *Session to each request.
type Manager struct {
	store  Store
	cookie CookieConfig
}

func NewManager(store Store, cookie CookieConfig) *Manager {
	return &Manager{store: store, cookie: cookie}
}

// Middleware resolves the session id from the cookie, minting a new id when
// the cookie is missing or malformed, and stores the session in the context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(m.cookie.Name); err == nil {
			if parsed, err := uuid.Parse(c.Value); err == nil {
				id = parsed.String()
			}
		}
		if id == "" {
			id = uuid.New().String()
		}

		m.setCookie(w, id, int(m.cookie.TTL.Seconds()))

		sess := New(id, m.store)
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

// Expire destroys the session data and clears the cookie.
func (m *Manager) Expire(w http.ResponseWriter, r *http.Request, sess *Session) error {
	m.setCookie(w, "", -1)
	return sess.Destroy(r.Context())
}

func (m *Manager) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie.Name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
