package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ncpwheels/internal/app/identity"
)

var ErrInvalidToken = errors.New("security: invalid token")

// Claims are the identity provider's access-token claims. The subject is the user id.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 bearer tokens.
type TokenVerifier struct {
	Secret []byte
	Issuer string
	Leeway time.Duration
}

func NewTokenVerifier(secret, issuer string) TokenVerifier {
	return TokenVerifier{Secret: []byte(secret), Issuer: issuer, Leeway: 30 * time.Second}
}

func (v TokenVerifier) Verify(raw string) (identity.Actor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(v.Secret) == 0 {
		return identity.Actor{}, ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.Leeway),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.Secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return identity.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return identity.Actor{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return identity.Actor{UserID: subject, Roles: claims.Roles}, nil
}

// TokenIssuer signs tokens the verifier accepts. Production tokens come from the
// identity provider; the issuer serves dev tooling and tests.
type TokenIssuer struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

func (i TokenIssuer) Issue(userID string, roles ...string) (string, error) {
	now := time.Now
	if i.Now != nil {
		now = i.Now
	}
	ttl := i.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	issued := now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.Issuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Secret)
}
