package lavalink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// TrackInfo is the decoded metadata of a resolved track.
type TrackInfo struct {
	Identifier string `json:"identifier"`
	IsSeekable bool   `json:"isSeekable"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	IsStream   bool   `json:"isStream"`
	Position   int64  `json:"position"`
	Title      string `json:"title"`
	URI        string `json:"uri"`
}

// LoadedTrack pairs the opaque playable payload with its metadata. The Track
// string is what Player.Play consumes.
type LoadedTrack struct {
	Track string    `json:"track"`
	Info  TrackInfo `json:"info"`
}

// RestOptions configures a RestClient.
type RestOptions struct {
	Host     string
	Port     int
	Password string

	// Address overrides the http://Host:Port base URL when set.
	Address string

	// RequestsPerSecond throttles outgoing requests. Defaults to 10.
	RequestsPerSecond float64

	Timeout time.Duration
	Logger  *zerolog.Logger
}

// RestClient resolves track identifiers against a node's REST endpoint. It
// retries transient failures with backoff and rate limits itself.
type RestClient struct {
	base     string
	password string
	http     *retryablehttp.Client
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// NewRestClient builds a RestClient for one node.
func NewRestClient(opts RestOptions) (*RestClient, error) {
	if opts.Host == "" && opts.Address == "" {
		return nil, fmt.Errorf("rest options: host or address is required")
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Password == "" {
		opts.Password = DefaultPassword
	}
	if opts.Address == "" {
		opts.Address = fmt.Sprintf("http://%s:%d", opts.Host, opts.Port)
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		l := log.With().Str("component", "lavalink-rest").Logger()
		opts.Logger = &l
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Timeout = opts.Timeout
	client.Logger = nil

	return &RestClient{
		base:     opts.Address,
		password: opts.Password,
		http:     client,
		limiter:  rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		log:      *opts.Logger,
	}, nil
}

// LoadTracks resolves an identifier (a source URL or a search query the node
// understands) into playable tracks.
func (c *RestClient) LoadTracks(ctx context.Context, identifier string) ([]LoadedTrack, error) {
	if identifier == "" {
		return nil, fmt.Errorf("load tracks: identifier is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/loadtracks?identifier=%s", c.base, url.QueryEscape(identifier))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("load tracks: build request: %w", err)
	}
	req.Header.Set("Authorization", c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load tracks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load tracks: node returned %s", resp.Status)
	}

	var tracks []LoadedTrack
	if err := json.NewDecoder(resp.Body).Decode(&tracks); err != nil {
		return nil, fmt.Errorf("load tracks: decode response: %w", err)
	}
	c.log.Debug().Str("identifier", identifier).Int("tracks", len(tracks)).Msg("tracks resolved")
	return tracks, nil
}
