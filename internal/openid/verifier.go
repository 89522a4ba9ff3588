package openid

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dropDatabas3/steamgate/internal/observability/logger"
)

const (
	// SteamEndpoint es el OP endpoint de Steam.
	SteamEndpoint = "https://steamcommunity.com/openid/login"

	nsOpenID2        = "http://specs.openid.net/auth/2.0"
	identifierSelect = "http://specs.openid.net/auth/2.0/identifier_select"

	defaultNonceWindow = 5 * time.Minute
	maxResponseBytes   = 64 << 10
)

var claimedIDRE = regexp.MustCompile(`^https?://steamcommunity\.com/openid/id/([0-9]{1,20})$`)

// fields the OP must cover with its signature (OpenID 2.0 §10.1)
var requiredSigned = []string{"op_endpoint", "return_to", "response_nonce", "assoc_handle", "claimed_id", "identity"}

var (
	ErrInvalidMode      = errors.New("openid: unexpected openid.mode")
	ErrReturnToMismatch = errors.New("openid: return_to does not match")
	ErrEndpointMismatch = errors.New("openid: op_endpoint does not match")
	ErrClaimedID        = errors.New("openid: claimed_id is not a Steam identity")
	ErrUnsigned         = errors.New("openid: required field not signed")
	ErrNonceExpired     = errors.New("openid: response_nonce outside the accepted window")
	ErrNonceReplay      = errors.New("openid: response_nonce already used")
	ErrNotVerified      = errors.New("openid: assertion rejected by provider")
	ErrProviderResponse = errors.New("openid: unexpected provider response")
)

// Verifier is the remote verification capability consumed by the sign-in flow.
type Verifier interface {
	// AuthURL is where the visitor is sent to sign in.
	AuthURL() string
	// Verify checks the callback request. It returns the verified SteamID64, or ""
	// with a nil error when the visitor cancelled at the provider.
	Verify(ctx context.Context, r *http.Request) (string, error)
}

// SteamOptions configura SteamVerifier.
type SteamOptions struct {
	// Realm es la URL base que Steam muestra al usuario y contra la que valida ReturnTo.
	Realm string
	// ReturnTo es la URL del callback (realm + "/__postlogin__").
	ReturnTo string
	// Endpoint permite apuntar a otro OP (tests). Default SteamEndpoint.
	Endpoint string
	// HTTPClient para check_authentication. Default: timeout de 10s.
	HTTPClient *http.Client
	// NonceWindow: antigüedad máxima de response_nonce. Default 5m.
	NonceWindow time.Duration
	// Now para tests.
	Now func() time.Time
}

// SteamVerifier implements Verifier against Steam's OpenID provider.
type SteamVerifier struct {
	realm       string
	returnTo    *url.URL
	endpoint    string
	client      *http.Client
	nonceWindow time.Duration
	now         func() time.Time
	seen        *gocache.Cache
}

// NewSteamVerifier valida las opciones y construye el verifier.
func NewSteamVerifier(opts SteamOptions) (*SteamVerifier, error) {
	if strings.TrimSpace(opts.Realm) == "" {
		return nil, errors.New("openid: realm required")
	}
	rt, err := url.Parse(opts.ReturnTo)
	if err != nil || rt.Scheme == "" || rt.Host == "" {
		return nil, fmt.Errorf("openid: invalid return_to %q", opts.ReturnTo)
	}
	if !strings.HasPrefix(opts.ReturnTo, strings.TrimRight(opts.Realm, "/")) {
		return nil, fmt.Errorf("openid: return_to %q is outside realm %q", opts.ReturnTo, opts.Realm)
	}

	v := &SteamVerifier{
		realm:       opts.Realm,
		returnTo:    rt,
		endpoint:    opts.Endpoint,
		client:      opts.HTTPClient,
		nonceWindow: opts.NonceWindow,
		now:         opts.Now,
	}
	if v.endpoint == "" {
		v.endpoint = SteamEndpoint
	}
	if v.client == nil {
		v.client = &http.Client{Timeout: 10 * time.Second}
	}
	if v.nonceWindow <= 0 {
		v.nonceWindow = defaultNonceWindow
	}
	if v.now == nil {
		v.now = time.Now
	}
	v.seen = gocache.New(2*v.nonceWindow, v.nonceWindow)
	return v, nil
}

// AuthURL builds the checkid_setup redirect.
func (v *SteamVerifier) AuthURL() string {
	q := url.Values{}
	q.Set("openid.ns", nsOpenID2)
	q.Set("openid.mode", "checkid_setup")
	q.Set("openid.return_to", v.returnTo.String())
	q.Set("openid.realm", v.realm)
	q.Set("openid.identity", identifierSelect)
	q.Set("openid.claimed_id", identifierSelect)
	return v.endpoint + "?" + q.Encode()
}

// Verify valida la aserción positiva y la confirma con el OP. Un único intento,
// sin reintentos: un fallo es terminal para este request.
func (v *SteamVerifier) Verify(ctx context.Context, r *http.Request) (string, error) {
	log := logger.From(ctx).With(logger.Layer("openid"), logger.Op("SteamVerifier.Verify"))
	q := r.URL.Query()

	switch mode := q.Get("openid.mode"); mode {
	case "id_res":
	case "cancel":
		log.Debug("visitor cancelled at provider")
		return "", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	if err := v.checkReturnTo(q.Get("openid.return_to")); err != nil {
		return "", err
	}
	if q.Get("openid.op_endpoint") != v.endpoint {
		return "", ErrEndpointMismatch
	}

	claimed := q.Get("openid.claimed_id")
	m := claimedIDRE.FindStringSubmatch(claimed)
	if m == nil || q.Get("openid.identity") != claimed {
		return "", ErrClaimedID
	}

	signed := strings.Split(q.Get("openid.signed"), ",")
	for _, field := range requiredSigned {
		if !contains(signed, field) {
			return "", fmt.Errorf("%w: %s", ErrUnsigned, field)
		}
	}

	nonce := q.Get("openid.response_nonce")
	if err := v.checkNonceTime(nonce); err != nil {
		return "", err
	}

	if err := v.checkAuthentication(ctx, q); err != nil {
		return "", err
	}

	// El nonce se consume solo después de que el OP confirmó la aserción.
	if err := v.seen.Add(nonce, struct{}{}, 2*v.nonceWindow); err != nil {
		return "", ErrNonceReplay
	}

	log.Debug("assertion verified", logger.SteamID(m[1]))
	return m[1], nil
}

func (v *SteamVerifier) checkReturnTo(raw string) error {
	got, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReturnToMismatch, err)
	}
	if !strings.EqualFold(got.Scheme, v.returnTo.Scheme) ||
		!strings.EqualFold(got.Host, v.returnTo.Host) ||
		got.Path != v.returnTo.Path {
		return ErrReturnToMismatch
	}
	return nil
}

// checkNonceTime valida el timestamp del prefijo del nonce (YYYY-MM-DDTHH:MM:SSZ).
func (v *SteamVerifier) checkNonceTime(nonce string) error {
	if len(nonce) < 20 {
		return fmt.Errorf("%w: malformed", ErrNonceExpired)
	}
	ts, err := time.Parse(time.RFC3339, nonce[:20])
	if err != nil {
		return fmt.Errorf("%w: malformed", ErrNonceExpired)
	}
	if _, dup := v.seen.Get(nonce); dup {
		return ErrNonceReplay
	}
	age := v.now().Sub(ts)
	if age > v.nonceWindow || age < -v.nonceWindow {
		return ErrNonceExpired
	}
	return nil
}

func (v *SteamVerifier) checkAuthentication(ctx context.Context, q url.Values) error {
	form := url.Values{}
	for k, vals := range q {
		if strings.HasPrefix(k, "openid.") {
			form[k] = vals
		}
	}
	form.Set("openid.mode", "check_authentication")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/plain")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("openid: check_authentication: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrProviderResponse, resp.StatusCode)
	}

	kv, err := parseKeyValue(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderResponse, err)
	}
	if kv["is_valid"] != "true" {
		return ErrNotVerified
	}
	return nil
}

// parseKeyValue lee el formato key:value\n de OpenID 2.0 (§4.1.1).
func parseKeyValue(r io.Reader) (map[string]string, error) {
	out := map[string]string{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		k, val, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		out[k] = val
	}
	return out, sc.Err()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
