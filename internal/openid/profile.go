package openid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// SteamAPIBase es la base de la Steam Web API.
const SteamAPIBase = "https://api.steampowered.com"

var (
	ErrProfileNotFound = errors.New("openid: player summary not found")
	ErrProfileDecode   = errors.New("openid: invalid player summary")
)

// PlayerSummary is the typed subset of ISteamUser/GetPlayerSummaries/v2 used here.
type PlayerSummary struct {
	SteamID                  string `json:"steamid"`
	PersonaName              string `json:"personaname"`
	ProfileURL               string `json:"profileurl,omitempty"`
	Avatar                   string `json:"avatar,omitempty"`
	AvatarMedium             string `json:"avatarmedium,omitempty"`
	AvatarFull               string `json:"avatarfull"`
	CommunityVisibilityState int    `json:"communityvisibilitystate,omitempty"`
}

// validate falla si falta algún campo requerido.
func (p *PlayerSummary) validate() error {
	var missing []string
	if p.SteamID == "" {
		missing = append(missing, "steamid")
	}
	if p.PersonaName == "" {
		missing = append(missing, "personaname")
	}
	if p.AvatarFull == "" {
		missing = append(missing, "avatarfull")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrProfileDecode, strings.Join(missing, ", "))
	}
	return nil
}

type summariesEnvelope struct {
	Response struct {
		Players []PlayerSummary `json:"players"`
	} `json:"response"`
}

// ProfileFetcher resolves the display attributes of a verified account.
type ProfileFetcher interface {
	Summary(ctx context.Context, steamID string) (*PlayerSummary, error)
}

// ProfileOptions configura SteamProfiles.
type ProfileOptions struct {
	APIKey     string
	BaseURL    string // default SteamAPIBase
	HTTPClient *http.Client
	// CacheTTL: cuánto se reutiliza un summary. 0 desactiva el cache.
	CacheTTL time.Duration
}

// SteamProfiles implementa ProfileFetcher contra la Web API.
// Las consultas concurrentes por el mismo id se colapsan en una sola.
type SteamProfiles struct {
	apiKey  string
	baseURL string
	client  *http.Client
	ttl     time.Duration
	cache   *gocache.Cache
	group   singleflight.Group
}

func NewSteamProfiles(opts ProfileOptions) (*SteamProfiles, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openid: steam api key required")
	}
	p := &SteamProfiles{
		apiKey:  opts.APIKey,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  opts.HTTPClient,
		ttl:     opts.CacheTTL,
	}
	if p.baseURL == "" {
		p.baseURL = SteamAPIBase
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 10 * time.Second}
	}
	if p.ttl > 0 {
		p.cache = gocache.New(p.ttl, 2*p.ttl)
	}
	return p, nil
}

func (p *SteamProfiles) Summary(ctx context.Context, steamID string) (*PlayerSummary, error) {
	if p.cache != nil {
		if v, ok := p.cache.Get(steamID); ok {
			s := *v.(*PlayerSummary)
			return &s, nil
		}
	}

	// el fetch compartido no depende del ctx de quien lo inició; cada caller
	// deja de esperar cuando se cancela el suyo.
	ch := p.group.DoChan(steamID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.fetchTimeout())
		defer cancel()
		return p.fetch(fctx, steamID)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("openid: GetPlayerSummaries: %w", ctx.Err())
	}
	if res.Err != nil {
		return nil, res.Err
	}
	summary := res.Val.(*PlayerSummary)
	if p.cache != nil {
		p.cache.SetDefault(steamID, summary)
	}
	s := *summary
	return &s, nil
}

func (p *SteamProfiles) fetchTimeout() time.Duration {
	if p.client.Timeout > 0 {
		return p.client.Timeout
	}
	return 10 * time.Second
}

func (p *SteamProfiles) fetch(ctx context.Context, steamID string) (*PlayerSummary, error) {
	q := url.Values{}
	q.Set("key", p.apiKey)
	q.Set("steamids", steamID)
	endpoint := p.baseURL + "/ISteamUser/GetPlayerSummaries/v0002/?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		// url.Error incluye la URL, que lleva la api key
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("openid: GetPlayerSummaries: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openid: GetPlayerSummaries: status %d", resp.StatusCode)
	}

	var env summariesEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileDecode, err)
	}
	for i := range env.Response.Players {
		player := env.Response.Players[i]
		if player.SteamID != steamID {
			continue
		}
		if err := player.validate(); err != nil {
			return nil, err
		}
		return &player, nil
	}
	return nil, ErrProfileNotFound
}
