package token

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	errprocess "transcoding_service/pkg/err"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// FetchFunc http GET returning status code and body
type FetchFunc func(ctx context.Context, url string, headers map[string]string) (int, []byte, error)

// HTTPGet fetch url with fiber client agent
func HTTPGet(ctx context.Context, url string, headers map[string]string) (int, []byte, error) {
	a := fiber.Get(url)
	for k, v := range headers {
		a.Set(k, v)
	}
	timeout := 10 * time.Second
	if d, ok := ctx.Deadline(); ok {
		timeout = time.Until(d)
	}
	a.Timeout(timeout)
	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return 0, nil, errs[0]
	}
	return code, body, nil
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// KeyResolver resolve RS256 public keys from a JWKS url.
//
// Cache policy: the whole key set is reused for TTL after a fetch. A kid missing from a
// fresh set triggers one refetch, at most once per MinRefresh, so rotated keys are picked
// up without letting unknown kids hammer the endpoint.
type KeyResolver struct {
	URL        string
	TTL        time.Duration
	MinRefresh time.Duration

	fetch FetchFunc
	now   func() time.Time

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	lastAttempt time.Time
}

// NewKeyResolver create KeyResolver, fetch nil uses HTTPGet
func NewKeyResolver(url string, ttl, minRefresh time.Duration, fetch FetchFunc) *KeyResolver {
	if fetch == nil {
		fetch = HTTPGet
	}
	return &KeyResolver{URL: url, TTL: ttl, MinRefresh: minRefresh, fetch: fetch, now: time.Now}
}

// Resolve return key for kid
func (r *KeyResolver) Resolve(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	expired := r.keys == nil || now.Sub(r.fetchedAt) >= r.TTL
	if !expired {
		if k, ok := r.keys[kid]; ok {
			return k, nil
		}
		if now.Sub(r.lastAttempt) < r.MinRefresh {
			return nil, errprocess.Wrap(errprocess.KindAuth, "token.Resolve", ErrNoKey, fmt.Sprintf("kid[%s]", kid))
		}
	}

	if err := r.refresh(ctx, now); err != nil {
		return nil, err
	}
	if k, ok := r.keys[kid]; ok {
		return k, nil
	}
	return nil, errprocess.Wrap(errprocess.KindAuth, "token.Resolve", ErrNoKey, fmt.Sprintf("kid[%s]", kid))
}

// Invalidate drop cached keys, the next Resolve fetches again
func (r *KeyResolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = nil
}

func (r *KeyResolver) refresh(ctx context.Context, now time.Time) error {
	r.lastAttempt = now
	code, body, err := r.fetch(ctx, r.URL, nil)
	if err != nil {
		return errprocess.Wrap(errprocess.KindAuth, "token.Resolve", err, "jwks unreachable")
	}
	if code != fiber.StatusOK {
		return errprocess.New(errprocess.KindAuth, "token.Resolve", fmt.Sprintf("jwks status %d", code))
	}

	keys, err := parseJWKS(body)
	if err != nil {
		return errprocess.Wrap(errprocess.KindAuth, "token.Resolve", err, "jwks malformed")
	}
	r.keys = keys
	r.fetchedAt = now
	return nil
}

func parseJWKS(body []byte) (map[string]*rsa.PublicKey, error) {
	var set jwkSet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, err
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("kid[%s] modulus: %w", k.Kid, err)
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("kid[%s] exponent: %w", k.Kid, err)
		}
		keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}
	}
	return keys, nil
}

// JWKSVerifier verify RS256 tokens against a KeyResolver
type JWKSVerifier struct {
	Keys   *KeyResolver
	Issuer string
}

// Verify implement Verifier
func (v *JWKSVerifier) Verify(ctx context.Context, bearer string) (*Identity, error) {
	tokenStr, err := BearerToken(bearer)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return v.Keys.Resolve(ctx, kid)
	}, opts...)
	if err != nil {
		return nil, errprocess.Wrap(errprocess.KindAuth, "token.JWKSVerifier", err, "invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errprocess.New(errprocess.KindAuth, "token.JWKSVerifier", "invalid token")
	}
	return claims.identity(bearer), nil
}

// RemoteVerifier ask the identity service GET <URL> with the bearer header
type RemoteVerifier struct {
	URL   string
	fetch FetchFunc
}

// NewRemoteVerifier create RemoteVerifier, fetch nil uses HTTPGet
func NewRemoteVerifier(url string, fetch FetchFunc) *RemoteVerifier {
	if fetch == nil {
		fetch = HTTPGet
	}
	return &RemoteVerifier{URL: url, fetch: fetch}
}

type verifyResponse struct {
	Username string `json:"username"`
	Sub      string `json:"sub"`
	User     struct {
		Username string `json:"username"`
		Sub      string `json:"sub"`
	} `json:"user"`
}

// Verify implement Verifier
func (v *RemoteVerifier) Verify(ctx context.Context, bearer string) (*Identity, error) {
	if _, err := BearerToken(bearer); err != nil {
		return nil, err
	}
	code, body, err := v.fetch(ctx, v.URL, map[string]string{fiber.HeaderAuthorization: bearer})
	if err != nil {
		return nil, errprocess.Wrap(errprocess.KindAuth, "token.RemoteVerifier", err, "verification service unreachable")
	}
	if code < 200 || code >= 300 {
		return nil, errprocess.New(errprocess.KindAuth, "token.RemoteVerifier", fmt.Sprintf("verification rejected, status %d", code))
	}

	id := &Identity{Bearer: bearer}
	var resp verifyResponse
	if json.Unmarshal(body, &resp) == nil {
		id.Username = firstNonEmpty(resp.Username, resp.User.Username)
		id.Subject = firstNonEmpty(resp.Sub, resp.User.Sub)
	}
	return id, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
