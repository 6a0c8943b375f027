package token

import (
	"context"
	"errors"
	"strings"
	"time"

	errprocess "transcoding_service/pkg/err"

	"github.com/golang-jwt/jwt/v5"
)

// Claims structure for custom claims in JWT
type Claims struct {
	MemberID string `json:"user_id,omitempty"`
	Role     string `json:"role,omitempty"`
	Username string `json:"username,omitempty"`
	// cognito 的 id token 使用這個欄位
	CognitoUsername string `json:"cognito:username,omitempty"`
	jwt.RegisteredClaims
}

// Identity verified caller
type Identity struct {
	Subject  string
	Username string
	Role     string
	// Bearer 原始 header, 只轉交給 worker 不做解析
	Bearer string
}

// Verifier verify bearer token → identity or failure
type Verifier interface {
	Verify(ctx context.Context, bearer string) (*Identity, error)
}

// BearerToken strip "Bearer " prefix
func BearerToken(header string) (string, error) {
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", errprocess.New(errprocess.KindAuth, "token.BearerToken", "invalid or missing token")
	}
	t := strings.TrimSpace(header[7:])
	if t == "" {
		return "", errprocess.New(errprocess.KindAuth, "token.BearerToken", "invalid or missing token")
	}
	return t, nil
}

func (c *Claims) identity(bearer string) *Identity {
	name := c.Username
	if name == "" {
		name = c.CognitoUsername
	}
	if name == "" {
		name = c.MemberID
	}
	if name == "" {
		name = c.Subject
	}
	return &Identity{Subject: c.Subject, Username: name, Role: c.Role, Bearer: bearer}
}

// HMACVerifier verify HS256 token with shared secret
type HMACVerifier struct {
	Secret []byte
	Issuer string
}

// NewHMACVerifier create HMACVerifier
func NewHMACVerifier(secret, issuer string) *HMACVerifier {
	return &HMACVerifier{Secret: []byte(secret), Issuer: issuer}
}

// Verify implement Verifier
func (h *HMACVerifier) Verify(_ context.Context, bearer string) (*Identity, error) {
	claims, err := ParseJWT(bearer, h.Secret, h.Issuer)
	if err != nil {
		return nil, err
	}
	return claims.identity(bearer), nil
}

// GenerateJWT generates a HS256 token
func GenerateJWT(secret []byte, username, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseJWT parses a bearer HS256 JWT and extracts the Claims
func ParseJWT(bearer string, secret []byte, issuer string) (*Claims, error) {
	tokenStr, err := BearerToken(bearer)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, errprocess.Wrap(errprocess.KindAuth, "token.ParseJWT", err, "invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errprocess.New(errprocess.KindAuth, "token.ParseJWT", "invalid token")
	}
	return claims, nil
}

// ChainVerifier every verifier must pass, identity of the first one is kept
type ChainVerifier []Verifier

// Verify implement Verifier
func (c ChainVerifier) Verify(ctx context.Context, bearer string) (*Identity, error) {
	if len(c) == 0 {
		return nil, errprocess.New(errprocess.KindAuth, "token.ChainVerifier", "no verifier configured")
	}
	var first *Identity
	for _, v := range c {
		id, err := v.Verify(ctx, bearer)
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = id
		} else if first.Username == "" {
			first.Username = id.Username
		}
	}
	return first, nil
}

// ErrNoKey no key found for kid
var ErrNoKey = errors.New("signing key not found")
