package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	errprocess "transcoding_service/pkg/err"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer xyz")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	_, err = BearerToken("xyz")
	assert.True(t, errprocess.IsAuth(err))
	_, err = BearerToken("Bearer   ")
	assert.True(t, errprocess.IsAuth(err))
}

func TestHMACVerifier(t *testing.T) {
	secret := []byte("secure_secret_key")
	v := NewHMACVerifier(string(secret), "auth-service")

	t.Run("valid token", func(t *testing.T) {
		signed, err := GenerateJWT(secret, "alice", "auth-service", time.Minute)
		require.NoError(t, err)

		id, err := v.Verify(context.Background(), "Bearer "+signed)
		require.NoError(t, err)
		assert.Equal(t, "alice", id.Username)
		assert.Equal(t, "Bearer "+signed, id.Bearer)
	})

	t.Run("expired token", func(t *testing.T) {
		signed, err := GenerateJWT(secret, "alice", "auth-service", -time.Minute)
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), "Bearer "+signed)
		assert.True(t, errprocess.IsAuth(err))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		signed, err := GenerateJWT(secret, "alice", "someone-else", time.Minute)
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), "Bearer "+signed)
		assert.True(t, errprocess.IsAuth(err))
	})
}

func jwksBody(t *testing.T, kid string, key *rsa.PublicKey) []byte {
	body, err := json.Marshal(map[string]interface{}{
		"keys": []map[string]string{{
			"kid": kid,
			"kty": "RSA",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	})
	require.NoError(t, err)
	return body
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid, username string) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		CognitoUsername: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "sub-" + username,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return "Bearer " + signed
}

func TestKeyResolverCachePolicy(t *testing.T) {
	key1, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key2, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0)
	calls := 0
	served := jwksBody(t, "k1", &key1.PublicKey)
	r := NewKeyResolver("https://issuer/.well-known/jwks.json", time.Hour, time.Minute,
		func(ctx context.Context, url string, headers map[string]string) (int, []byte, error) {
			calls++
			return 200, served, nil
		})
	r.now = func() time.Time { return now }

	_, err = r.Resolve(context.Background(), "k1")
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "cached within ttl")

	// rotation: unknown kid refetches once
	served = jwksBody(t, "k2", &key2.PublicKey)
	now = now.Add(2 * time.Minute)
	k, err := r.Resolve(context.Background(), "k2")
	require.NoError(t, err)
	assert.Equal(t, key2.PublicKey.N, k.N)
	assert.Equal(t, 2, calls)

	// unknown kid inside MinRefresh does not refetch
	_, err = r.Resolve(context.Background(), "k3")
	assert.True(t, errors.Is(err, ErrNoKey))
	assert.Equal(t, 2, calls)

	// ttl expiry refetches
	now = now.Add(2 * time.Hour)
	_, err = r.Resolve(context.Background(), "k2")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	r.Invalidate()
	_, err = r.Resolve(context.Background(), "k2")
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestJWKSVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	body := jwksBody(t, "k1", &key.PublicKey)
	r := NewKeyResolver("jwks", time.Hour, time.Minute, func(ctx context.Context, url string, headers map[string]string) (int, []byte, error) {
		return 200, body, nil
	})
	v := &JWKSVerifier{Keys: r}

	id, err := v.Verify(context.Background(), signRS256(t, key, "k1", "bob"))
	require.NoError(t, err)
	assert.Equal(t, "bob", id.Username)
	assert.Equal(t, "sub-bob", id.Subject)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), signRS256(t, other, "k1", "mallory"))
	assert.True(t, errprocess.IsAuth(err))
}

func TestRemoteVerifier(t *testing.T) {
	var gotAuth string
	v := NewRemoteVerifier("http://auth:3001/api/verify", func(ctx context.Context, url string, headers map[string]string) (int, []byte, error) {
		gotAuth = headers["Authorization"]
		if gotAuth == "Bearer good" {
			return 200, []byte(`{"user":{"username":"carol"}}`), nil
		}
		return 401, []byte(`{"error":"invalid"}`), nil
	})

	id, err := v.Verify(context.Background(), "Bearer good")
	require.NoError(t, err)
	assert.Equal(t, "carol", id.Username)
	assert.Equal(t, "Bearer good", gotAuth)

	_, err = v.Verify(context.Background(), "Bearer bad")
	assert.True(t, errprocess.IsAuth(err))

	down := NewRemoteVerifier("http://auth", func(ctx context.Context, url string, headers map[string]string) (int, []byte, error) {
		return 0, nil, errors.New("dial tcp: connection refused")
	})
	_, err = down.Verify(context.Background(), "Bearer good")
	assert.True(t, errprocess.IsAuth(err))
}

func TestChainVerifier(t *testing.T) {
	secret := []byte("s")
	signed, err := GenerateJWT(secret, "dave", "", time.Minute)
	require.NoError(t, err)

	remote := NewRemoteVerifier("verify", func(ctx context.Context, url string, headers map[string]string) (int, []byte, error) {
		return 200, []byte(`{}`), nil
	})
	chain := ChainVerifier{NewHMACVerifier("s", ""), remote}
	id, err := chain.Verify(context.Background(), "Bearer "+signed)
	require.NoError(t, err)
	assert.Equal(t, "dave", id.Username)

	rejecting := NewRemoteVerifier("verify", func(ctx context.Context, url string, headers map[string]string) (int, []byte, error) {
		return 403, nil, nil
	})
	_, err = ChainVerifier{NewHMACVerifier("s", ""), rejecting}.Verify(context.Background(), "Bearer "+signed)
	assert.True(t, errprocess.IsAuth(err))

	_, err = ChainVerifier{}.Verify(context.Background(), "Bearer "+signed)
	assert.True(t, errprocess.IsAuth(err))
}
