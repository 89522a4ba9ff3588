package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore envuelve un Store y falla a pedido.
type flakyStore struct {
	Store
	failSave    atomic.Bool
	failDestroy atomic.Bool
	saves       atomic.Int32
	destroys    atomic.Int32
}

var errBoom = errors.New("boom")

func (f *flakyStore) Save(ctx context.Context, s *Session) error {
	f.saves.Add(1)
	if f.failSave.Load() {
		return errBoom
	}
	return f.Store.Save(ctx, s)
}

func (f *flakyStore) Destroy(ctx context.Context, id string) error {
	f.destroys.Add(1)
	if f.failDestroy.Load() {
		return errBoom
	}
	return f.Store.Destroy(ctx, id)
}

func newTestManager(t *testing.T, opts Options) (*Manager, *flakyStore) {
	t.Helper()
	st := &flakyStore{Store: NewMemoryStore()}
	if opts.Secret == "" {
		opts.Secret = "test-secret"
	}
	m, err := NewManager(st, opts)
	require.NoError(t, err)
	return m, st
}

// serve corre h detrás del middleware, reenviando las cookies dadas.
func serve(m *Manager, h http.HandlerFunc, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	m.Middleware()(h).ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, m *Manager, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == m.opts.CookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", m.opts.CookieName)
	return nil
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil, Options{Secret: "x"})
	assert.Error(t, err)
	_, err = NewManager(NewMemoryStore(), Options{})
	assert.Error(t, err)

	m, err := NewManager(NewMemoryStore(), Options{Secret: "x"})
	require.NoError(t, err)
	assert.Equal(t, DefaultCookieName, m.opts.CookieName)
	assert.Equal(t, DefaultTTL, m.opts.TTL)
	assert.Equal(t, "/", m.opts.Path)
}

func TestMiddleware_CreatesAnonymousSession(t *testing.T) {
	m, st := newTestManager(t, Options{})
	var seen *Session
	rec := serve(m, func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		assert.Equal(t, "", SubjectFrom(r.Context()))
		assert.Same(t, m, ManagerFrom(r.Context()))
	})
	require.NotNil(t, seen)
	assert.False(t, seen.Authenticated())
	assert.EqualValues(t, 1, st.saves.Load())

	ck := sessionCookie(t, m, rec)
	assert.True(t, ck.HttpOnly)

	// la misma cookie resuelve la misma sesión
	var again *Session
	serve(m, func(w http.ResponseWriter, r *http.Request) { again = FromContext(r.Context()) }, ck)
	assert.Equal(t, seen.ID, again.ID)
}

func TestMiddleware_SkipUninitialized(t *testing.T) {
	m, st := newTestManager(t, Options{SkipUninitialized: true})
	rec := serve(m, func(w http.ResponseWriter, r *http.Request) {
		assert.NotNil(t, FromContext(r.Context()))
	})
	assert.EqualValues(t, 0, st.saves.Load())
	assert.Empty(t, rec.Result().Cookies())
}

func TestMiddleware_TamperedCookieStartsOver(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	rec := serve(m, func(http.ResponseWriter, *http.Request) {})
	ck := sessionCookie(t, m, rec)

	other, _ := newTestManager(t, Options{Secret: "another-secret"})
	forged := serve(other, func(http.ResponseWriter, *http.Request) {})

	var got *Session
	serve(m, func(w http.ResponseWriter, r *http.Request) { got = FromContext(r.Context()) },
		&http.Cookie{Name: ck.Name, Value: sessionCookie(t, other, forged).Value})
	require.NotNil(t, got)
	assert.NotEqual(t, m.parse(ck.Value), got.ID)
}

func TestMiddleware_StoreFailureIs500(t *testing.T) {
	m, st := newTestManager(t, Options{})
	st.failSave.Store(true)
	called := false
	rec := serve(m, func(http.ResponseWriter, *http.Request) { called = true })
	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "SESSION_FAILURE")
}

func TestLogin_RegeneratesAndBinds(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	first := serve(m, func(http.ResponseWriter, *http.Request) {})
	anon := sessionCookie(t, m, first)
	anonID := m.parse(anon.Value)

	rec := serve(m, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, m.Login(w, r, "76561197960287930"))
		assert.Equal(t, "76561197960287930", SubjectFrom(r.Context()))
		assert.NotEqual(t, anonID, FromContext(r.Context()).ID)
	}, anon)

	bound := sessionCookie(t, m, rec)
	var subject string
	serve(m, func(w http.ResponseWriter, r *http.Request) { subject = SubjectFrom(r.Context()) }, bound)
	assert.Equal(t, "76561197960287930", subject)

	// la sesión anónima anterior ya no existe
	_, err := m.Store().Load(context.Background(), anonID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLogin_StoreErrorIsReturned(t *testing.T) {
	m, st := newTestManager(t, Options{})
	serve(m, func(w http.ResponseWriter, r *http.Request) {
		st.failSave.Store(true)
		err := m.Login(w, r, "1")
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, "", SubjectFrom(r.Context()))
	})
}

func TestLogin_SaveFailureKeepsPreviousSession(t *testing.T) {
	m, st := newTestManager(t, Options{})
	first := serve(m, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, m.Login(w, r, "42"))
	})
	prev := sessionCookie(t, m, first)
	prevID := m.parse(prev.Value)
	destroys := st.destroys.Load()

	rec := serve(m, func(w http.ResponseWriter, r *http.Request) {
		st.failSave.Store(true)
		assert.ErrorIs(t, m.Login(w, r, "76561197960287930"), errBoom)
		assert.Equal(t, "42", SubjectFrom(r.Context()))
		assert.Equal(t, prevID, FromContext(r.Context()).ID)
	}, prev)
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, destroys, st.destroys.Load())

	got, err := m.Store().Load(context.Background(), prevID)
	require.NoError(t, err)
	assert.Equal(t, "42", got.Subject)
}

func TestLogin_DestroyFailureStillBinds(t *testing.T) {
	m, st := newTestManager(t, Options{})
	rec := serve(m, func(w http.ResponseWriter, r *http.Request) {
		st.failDestroy.Store(true)
		require.NoError(t, m.Login(w, r, "7"))
		assert.Equal(t, "7", SubjectFrom(r.Context()))
	})
	var subject string
	serve(m, func(w http.ResponseWriter, r *http.Request) { subject = SubjectFrom(r.Context()) }, sessionCookie(t, m, rec))
	assert.Equal(t, "7", subject)
}

func TestCookie_FollowsInjectedClock(t *testing.T) {
	now := time.Date(2001, 1, 1, 12, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, Options{TTL: 30 * time.Minute, Now: func() time.Time { return now }})

	ck := m.cookie("v", now.Add(30*time.Minute))
	assert.Equal(t, 1800, ck.MaxAge)
	assert.True(t, ck.Expires.Equal(now.Add(30*time.Minute)))

	ck = m.cookie("v", now.Add(-time.Second))
	assert.Equal(t, -1, ck.MaxAge)
}

func TestLogin_OutsideMiddleware(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	err := m.Login(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), "1")
	assert.ErrorIs(t, err, ErrNoSession)
	err = Logout(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestLogout_IsIdempotent(t *testing.T) {
	m, st := newTestManager(t, Options{})
	serve(m, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, m.Login(w, r, "42"))
		require.NoError(t, Logout(w, r))
		assert.Equal(t, "", SubjectFrom(r.Context()))
		require.NoError(t, Logout(w, r))
		assert.Equal(t, "", SubjectFrom(r.Context()))
	})
	assert.EqualValues(t, 3, st.destroys.Load())
}

func TestLogout_StoreErrorIsReturnedEveryTime(t *testing.T) {
	m, st := newTestManager(t, Options{})
	serve(m, func(w http.ResponseWriter, r *http.Request) {
		st.failDestroy.Store(true)
		assert.ErrorIs(t, Logout(w, r), errBoom)
		assert.ErrorIs(t, Logout(w, r), errBoom)
	})
}

func TestParseSameSite(t *testing.T) {
	assert.Equal(t, http.SameSiteStrictMode, ParseSameSite(" Strict "))
	assert.Equal(t, http.SameSiteNoneMode, ParseSameSite("none"))
	assert.Equal(t, http.SameSiteLaxMode, ParseSameSite(""))
	assert.Equal(t, http.SameSiteLaxMode, ParseSameSite("bogus"))
}
