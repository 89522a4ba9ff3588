package openid

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringsReader(s string) io.Reader { return strings.NewReader(s) }

func newSummaryServer(t *testing.T, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/ISteamUser/GetPlayerSummaries/v0002/" || r.URL.Query().Get("key") != "k" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const okSummary = `{"response":{"players":[{"steamid":"76561197960287930","personaname":"Rabscuttle","profileurl":"https://steamcommunity.com/id/gabelogannewell/","avatarfull":"https://avatars.example/full.jpg","communityvisibilitystate":3}]}}`

func TestSummary_Success(t *testing.T) {
	var hits atomic.Int32
	srv := newSummaryServer(t, okSummary, &hits)
	p, err := NewSteamProfiles(ProfileOptions{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	s, err := p.Summary(context.Background(), "76561197960287930")
	require.NoError(t, err)
	assert.Equal(t, "Rabscuttle", s.PersonaName)
	assert.Equal(t, "https://avatars.example/full.jpg", s.AvatarFull)
	assert.Equal(t, 3, s.CommunityVisibilityState)
}

func TestSummary_MissingFields(t *testing.T) {
	var hits atomic.Int32
	srv := newSummaryServer(t, `{"response":{"players":[{"steamid":"76561197960287930"}]}}`, &hits)
	p, err := NewSteamProfiles(ProfileOptions{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Summary(context.Background(), "76561197960287930")
	assert.ErrorIs(t, err, ErrProfileDecode)
	assert.Contains(t, err.Error(), "personaname")
	assert.Contains(t, err.Error(), "avatarfull")
}

func TestSummary_NotFound(t *testing.T) {
	var hits atomic.Int32
	srv := newSummaryServer(t, `{"response":{"players":[]}}`, &hits)
	p, err := NewSteamProfiles(ProfileOptions{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Summary(context.Background(), "76561197960287930")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestSummary_BadJSON(t *testing.T) {
	var hits atomic.Int32
	srv := newSummaryServer(t, `{"response":`, &hits)
	p, err := NewSteamProfiles(ProfileOptions{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Summary(context.Background(), "76561197960287930")
	assert.ErrorIs(t, err, ErrProfileDecode)
}

func TestSummary_Cached(t *testing.T) {
	var hits atomic.Int32
	srv := newSummaryServer(t, okSummary, &hits)
	p, err := NewSteamProfiles(ProfileOptions{APIKey: "k", BaseURL: srv.URL, CacheTTL: time.Minute})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Summary(context.Background(), "76561197960287930")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	_, err = p.Summary(context.Background(), "76561197960287930")
	require.NoError(t, err)

	assert.LessOrEqual(t, hits.Load(), int32(8))
	before := hits.Load()
	_, _ = p.Summary(context.Background(), "76561197960287930")
	assert.Equal(t, before, hits.Load())
}

func TestNewSteamProfiles_RequiresKey(t *testing.T) {
	_, err := NewSteamProfiles(ProfileOptions{})
	assert.Error(t, err)
}

func TestSummary_SharedFetchSurvivesFirstCallerCancel(t *testing.T) {
	var hits atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		entered <- struct{}{}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, okSummary)
	}))
	t.Cleanup(srv.Close)
	p, err := NewSteamProfiles(ProfileOptions{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	actx, cancelA := context.WithCancel(context.Background())
	aErr := make(chan error, 1)
	go func() {
		_, err := p.Summary(actx, "76561197960287930")
		aErr <- err
	}()
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch never reached the API")
	}

	type result struct {
		s   *PlayerSummary
		err error
	}
	bRes := make(chan result, 1)
	go func() {
		s, err := p.Summary(context.Background(), "76561197960287930")
		bRes <- result{s, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-aErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(release)
	select {
	case r := <-bRes:
		require.NoError(t, r.err)
		assert.Equal(t, "Rabscuttle", r.s.PersonaName)
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never returned")
	}
	assert.Equal(t, int32(1), hits.Load())
}
