package openid

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

// fakeOP simula el endpoint OpenID de Steam.
type fakeOP struct {
	srv    *httptest.Server
	valid  atomic.Bool
	checks atomic.Int32
	last   atomic.Value // url.Values
}

func newFakeOP(t *testing.T) *fakeOP {
	t.Helper()
	op := &fakeOP{}
	op.valid.Store(true)
	op.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = r.ParseForm()
		op.checks.Add(1)
		op.last.Store(r.PostForm)
		fmt.Fprintf(w, "ns:%s\nis_valid:%t\n", nsOpenID2, op.valid.Load())
	}))
	t.Cleanup(op.srv.Close)
	return op
}

func (op *fakeOP) endpoint() string { return op.srv.URL + "/openid/login" }

const testRealm = "http://localhost:3000"

func callbackQuery(op *fakeOP, steamID string, now time.Time) url.Values {
	claimed := "https://steamcommunity.com/openid/id/" + steamID
	q := url.Values{}
	q.Set("openid.ns", nsOpenID2)
	q.Set("openid.mode", "id_res")
	q.Set("openid.op_endpoint", op.endpoint())
	q.Set("openid.claimed_id", claimed)
	q.Set("openid.identity", claimed)
	q.Set("openid.return_to", testRealm+"/__postlogin__")
	q.Set("openid.response_nonce", now.UTC().Format(time.RFC3339)+fmt.Sprintf("%d", now.UnixNano()))
	q.Set("openid.assoc_handle", "1234567890")
	q.Set("openid.signed", "signed,op_endpoint,claimed_id,identity,return_to,response_nonce,assoc_handle")
	q.Set("openid.sig", "c2lnbmF0dXJl")
	return q
}

func callbackRequest(q url.Values) *http.Request {
	return httptest.NewRequest(http.MethodGet, testRealm+"/__postlogin__?"+q.Encode(), nil)
}
