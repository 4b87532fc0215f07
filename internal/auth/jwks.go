package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"subsidypay/internal/httpclient"
	"subsidypay/internal/logging"
	"subsidypay/internal/observability"
)

const (
	defaultKeyCacheSize     = 16
	defaultKeyCacheTTL      = 10 * time.Minute
	defaultFetchesPerMinute = 10
	defaultFetchTimeout     = 5 * time.Second
	maxJWKSBytes            = 1 << 20
)

var (
	// ErrKeyNotFound means the key set has no usable RSA key for the kid.
	ErrKeyNotFound = errors.New("signing key not found")
	// ErrFetchRateLimited means the key set may not be fetched again yet.
	ErrFetchRateLimited = errors.New("signing key set fetch rate limited")
)

// KeySource resolves RSA verification keys by key id.
type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// KeySetConfig configures a JWKSKeySource.
type KeySetConfig struct {
	URL string
	// CacheSize bounds the number of cached keys.
	CacheSize int
	// CacheTTL is how long a fetched key is trusted.
	CacheTTL time.Duration
	// FetchesPerMinute bounds remote key set fetches.
	FetchesPerMinute int
	FetchTimeout     time.Duration
	HTTPClient       *http.Client
	Now              func() time.Time
	Logger           logging.Logger
	Metrics          *observability.MetricsCollector
	Tracer           *observability.TracerProvider
}

type cachedKey struct {
	key      *rsa.PublicKey
	storedAt time.Time
}

// JWKSKeySource is a read-through cache over a remote JWKS document. It is
// safe for concurrent use.
type JWKSKeySource struct {
	url          string
	cache        *lru.Cache[string, cachedKey]
	ttl          time.Duration
	limiter      *rate.Limiter
	group        singleflight.Group
	fetchTimeout time.Duration
	httpClient   *http.Client
	now          func() time.Time
	logger       logging.Logger
	metrics      *observability.MetricsCollector
	tracer       *observability.TracerProvider
}

// NewJWKSKeySource builds a key source for cfg.URL.
func NewJWKSKeySource(cfg KeySetConfig) (*JWKSKeySource, error) {
	if _, err := httpclient.ParseBaseURL(cfg.URL); err != nil {
		return nil, fmt.Errorf("jwks url: %w", err)
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultKeyCacheSize
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultKeyCacheTTL
	}
	perMinute := cfg.FetchesPerMinute
	if perMinute <= 0 {
		perMinute = defaultFetchesPerMinute
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := logging.OrNop(cfg.Logger)
	if logging.IsNil(cfg.Logger) {
		logger = logging.NewComponentLogger("JWKS")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httpclient.New(fetchTimeout, logger)
	}

	cache, err := lru.New[string, cachedKey](size)
	if err != nil {
		return nil, fmt.Errorf("create key cache: %w", err)
	}
	return &JWKSKeySource{
		url:          cfg.URL,
		cache:        cache,
		ttl:          ttl,
		limiter:      rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		fetchTimeout: fetchTimeout,
		httpClient:   client,
		now:          now,
		logger:       logger,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
	}, nil
}

// Key returns the verification key for kid, fetching the key set on a miss.
func (s *JWKSKeySource) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if kid == "" {
		return nil, ErrKeyNotFound
	}
	if key, ok := s.lookup(kid); ok {
		return key, nil
	}

	_, err, _ := s.group.Do(kid, func() (any, error) {
		// A refresh for another kid may have loaded this one meanwhile.
		if _, ok := s.lookup(kid); ok {
			return nil, nil
		}
		if !s.limiter.AllowN(s.now(), 1) {
			s.metrics.RecordJWKSFetch(ctx, "rate_limited")
			return nil, ErrFetchRateLimited
		}
		return nil, s.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	if key, ok := s.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

func (s *JWKSKeySource) lookup(kid string) (*rsa.PublicKey, bool) {
	entry, ok := s.cache.Get(kid)
	if !ok {
		return nil, false
	}
	if s.now().Sub(entry.storedAt) > s.ttl {
		s.cache.Remove(kid)
		return nil, false
	}
	return entry.key, true
}

func (s *JWKSKeySource) refresh(ctx context.Context) (err error) {
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanJWKSFetch)
	defer func() { observability.EndSpan(span, err) }()

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
	defer cancel()

	keys, err := s.fetch(fetchCtx)
	if err != nil {
		s.metrics.RecordJWKSFetch(ctx, "error")
		s.logger.Warn("JWKS fetch from %s failed: %v", s.url, err)
		return err
	}
	s.metrics.RecordJWKSFetch(ctx, "ok")

	storedAt := s.now()
	for kid, key := range keys {
		s.cache.Add(kid, cachedKey{key: key, storedAt: storedAt})
	}
	s.logger.Debug("Loaded %d signing keys from %s", len(keys), s.url)
	return nil
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (s *JWKSKeySource) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks request failed with status %d", resp.StatusCode)
	}
	data, err := httpclient.ReadBody(resp.Body, maxJWKSBytes)
	if err != nil {
		return nil, fmt.Errorf("read jwks response: %w", err)
	}

	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode jwks response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Kty != "RSA" || jwk.Kid == "" {
			continue
		}
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		if jwk.Alg != "" && jwk.Alg != "RS256" {
			continue
		}
		key, err := parseRSAPublicKey(jwk.N, jwk.E)
		if err != nil {
			s.logger.Warn("Skipping malformed key %q: %v", jwk.Kid, err)
			continue
		}
		keys[jwk.Kid] = key
	}
	return keys, nil
}

func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 || len(eBytes) > 4 {
		return nil, errors.New("invalid key parameters")
	}
	exponent := int(new(big.Int).SetBytes(eBytes).Int64())
	if exponent < 3 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: exponent}, nil
}
