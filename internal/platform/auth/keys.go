package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

var (
	// ErrKeyNotFound is returned when no published key matches a token's kid.
	ErrKeyNotFound = errors.New("auth: signing key not found")
	// ErrKeysUnavailable wraps transport or decoding failures while fetching the key set.
	ErrKeysUnavailable = errors.New("auth: signing keys unavailable")
)

const (
	defaultKeyTTL       = 15 * time.Minute
	defaultFetchTimeout = 5 * time.Second
)

// KeySet fetches and caches the JSON Web Key Set that signs operator identity tokens.
type KeySet struct {
	url    string
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
	ttl    time.Duration

	mu     sync.RWMutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time

	fetchMu sync.Mutex
}

// KeySetOption customises a KeySet.
type KeySetOption func(*KeySet)

// WithKeySetHTTPClient overrides the client used to download the key set.
func WithKeySetHTTPClient(client *http.Client) KeySetOption {
	return func(k *KeySet) {
		if client != nil {
			k.client = client
		}
	}
}

// WithKeySetLogger sets the logger used for refresh outcomes.
func WithKeySetLogger(logger *zap.Logger) KeySetOption {
	return func(k *KeySet) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithKeySetClock injects the time source.
func WithKeySetClock(now func() time.Time) KeySetOption {
	return func(k *KeySet) {
		if now != nil {
			k.now = now
		}
	}
}

// WithKeySetTTL sets how long keys are trusted when the response carries no max-age.
func WithKeySetTTL(ttl time.Duration) KeySetOption {
	return func(k *KeySet) {
		if ttl > 0 {
			k.ttl = ttl
		}
	}
}

// NewKeySet constructs a KeySet for the JWKS document at url.
func NewKeySet(url string, opts ...KeySetOption) *KeySet {
	k := &KeySet{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: 10 * time.Second},
		logger: zap.NewNop(),
		now:    time.Now,
		ttl:    defaultKeyTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k
}

// Keyfunc adapts the set to jwt parsing. Only RS256 tokens carrying a kid are accepted.
func (k *KeySet) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Method)
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return k.Key(ctx, kid)
	}
}

// Key returns the public key for kid. An unknown kid forces one refresh to pick up rotated keys.
func (k *KeySet) Key(ctx context.Context, kid string) (any, error) {
	if k.expired() {
		if err := k.refresh(ctx); err != nil {
			return nil, err
		}
	}
	if key, ok := k.lookup(kid); ok {
		return key, nil
	}
	if err := k.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := k.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
}

func (k *KeySet) lookup(kid string) (any, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	jwk, ok := k.keys[kid]
	if !ok {
		return nil, false
	}
	return jwk.Key, true
}

func (k *KeySet) expired() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys) == 0 || !k.now().Before(k.expiry)
}

func (k *KeySet) refresh(ctx context.Context) error {
	k.fetchMu.Lock()
	defer k.fetchMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrKeysUnavailable, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrKeysUnavailable, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID == "" || !jwk.Valid() {
			continue
		}
		keys[jwk.KeyID] = jwk
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrKeysUnavailable)
	}

	ttl := k.ttl
	if maxAge, ok := parseMaxAge(resp.Header.Get("Cache-Control")); ok {
		ttl = maxAge
	}

	k.mu.Lock()
	k.keys = keys
	k.expiry = k.now().Add(ttl)
	k.mu.Unlock()

	k.logger.Debug("operator signing keys refreshed", zap.Int("keys", len(keys)), zap.Duration("ttl", ttl))
	return nil
}

func parseMaxAge(header string) (time.Duration, bool) {
	for _, part := range strings.Split(header, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		value, ok := strings.CutPrefix(part, "max-age=")
		if !ok {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}
