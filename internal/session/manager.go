package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	apperrors "github.com/dropDatabas3/steamgate/internal/http/errors"
	"github.com/dropDatabas3/steamgate/internal/observability/logger"
)

const (
	DefaultCookieName = "steamgate.sid"
	DefaultTTL        = time.Hour

	hkdfInfo    = "steamgate session cookie v1"
	tokenIssuer = "steamgate"
)

// Options configura el Manager.
type Options struct {
	// Secret firma la cookie. Requerido.
	Secret     string
	CookieName string
	// TTL de la sesión y de la cookie. Default 1h.
	TTL      time.Duration
	Secure   bool
	SameSite string
	Domain   string
	Path     string
	// SkipUninitialized evita persistir sesiones anónimas hasta el primer login.
	SkipUninitialized bool
	Now               func() time.Time
}

// Manager emits and resolves session cookies on top of a Store.
type Manager struct {
	store Store
	opts  Options
	key   []byte
}

type cookieClaims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

func NewManager(store Store, opts Options) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session: store required")
	}
	if strings.TrimSpace(opts.Secret) == "" {
		return nil, errors.New("session: secret required")
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	key, err := deriveKey(opts.Secret)
	if err != nil {
		return nil, err
	}
	return &Manager{store: store, opts: opts, key: key}, nil
}

func deriveKey(secret string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("session: derive key: %w", err)
	}
	return key, nil
}

// Store devuelve el store subyacente.
func (m *Manager) Store() Store { return m.store }

func (m *Manager) sign(s *Session) (string, error) {
	claims := cookieClaims{
		SID: s.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(m.opts.Now()),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
}

// parse devuelve el sid de una cookie válida, o "" si la cookie no sirve.
func (m *Manager) parse(raw string) string {
	var claims cookieClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return m.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(m.opts.Now),
	)
	if err != nil {
		return ""
	}
	return claims.SID
}

func (m *Manager) fresh(subject string) *Session {
	now := m.opts.Now()
	return &Session{
		ID:        uuid.NewString(),
		Subject:   subject,
		CreatedAt: now,
		ExpiresAt: now.Add(m.opts.TTL),
	}
}

func (m *Manager) persist(w http.ResponseWriter, r *http.Request, s *Session) error {
	if err := m.store.Save(r.Context(), s); err != nil {
		return err
	}
	tok, err := m.sign(s)
	if err != nil {
		return fmt.Errorf("session: sign cookie: %w", err)
	}
	http.SetCookie(w, m.cookie(tok, s.ExpiresAt))
	return nil
}

// resolve carga la sesión de la cookie o crea una anónima.
func (m *Manager) resolve(w http.ResponseWriter, r *http.Request) (*Session, error) {
	if ck, err := r.Cookie(m.opts.CookieName); err == nil {
		if sid := m.parse(ck.Value); sid != "" {
			s, err := m.store.Load(r.Context(), sid)
			switch {
			case err == nil:
				return s, nil
			case !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidID):
				return nil, err
			}
		}
	}
	s := m.fresh("")
	if m.opts.SkipUninitialized {
		return s, nil
	}
	if err := m.persist(w, r, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Middleware resolves the visitor's session and stores it in the request context.
// Store failures answer 500 without calling next.
func (m *Manager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := m.resolve(w, r)
			if err != nil {
				logger.From(r.Context()).Error("session resolve failed",
					logger.Component("session"), logger.Op("resolve"), logger.Err(err))
				apperrors.WriteError(w, apperrors.ErrSessionFailure.WithCause(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(withBinding(r.Context(), m, s)))
		})
	}
}

// Login binds subject to the visitor under a newly issued session id.
// The new session is persisted before the previous one is destroyed.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, subject string) error {
	b := bindingFrom(r.Context())
	if b == nil || b.s == nil {
		return ErrNoSession
	}
	if subject == "" {
		return errors.New("session: empty subject")
	}
	// la sesión nueva se guarda antes de borrar la vieja: si el store falla,
	// el visitante conserva la que tenía.
	next := m.fresh(subject)
	if err := m.persist(w, r, next); err != nil {
		return err
	}
	prev := b.s.ID
	*b.s = *next
	log := logger.From(r.Context())
	if err := m.store.Destroy(r.Context(), prev); err != nil && !errors.Is(err, ErrInvalidID) {
		// la cookie ya apunta a la nueva; la vieja queda hasta que expire
		log.Warn("previous session not destroyed",
			logger.Component("session"), logger.SessionID(prev), logger.Err(err))
	}
	log.Debug("session bound",
		logger.Component("session"), logger.Subject(subject), logger.SessionID(next.ID))
	return nil
}

// Logout clears the subject and rotates the session id. Calling it on an anonymous
// session is a no-op for the visitor but still goes through the store.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) error {
	b := bindingFrom(r.Context())
	if b == nil || b.s == nil {
		return ErrNoSession
	}
	if err := m.store.Destroy(r.Context(), b.s.ID); err != nil && !errors.Is(err, ErrInvalidID) {
		return err
	}
	next := m.fresh("")
	if err := m.persist(w, r, next); err != nil {
		return err
	}
	*b.s = *next
	return nil
}

// Logout ends the session of the request through the Manager that issued it.
func Logout(w http.ResponseWriter, r *http.Request) error {
	m := ManagerFrom(r.Context())
	if m == nil {
		return ErrNoSession
	}
	return m.Logout(w, r)
}
