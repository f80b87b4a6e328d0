// Package auth verifies the bearer tokens minted by the identity service.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mycelian/cockpit/internal/model"
)

// Claims are the identity assertions the cockpit relies on.
type Claims struct {
	jwt.RegisteredClaims
	Wallets      []model.Wallet `json:"wallets"`
	ActiveWallet string         `json:"active_wallet,omitempty"`
}

// Verifier checks HS256 tokens against a shared secret.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// WithClock overrides the time used for expiry checks.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify parses token and returns the caller it asserts.
func (v *Verifier) Verify(token string) (model.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return model.Principal{}, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return model.Principal{
		UserID:       claims.Subject,
		Wallets:      claims.Wallets,
		ActiveWallet: claims.ActiveWallet,
	}, nil
}

// Issue signs a token for p. The identity service owns minting in production;
// this serves local tooling and tests.
func (v *Verifier) Issue(p model.Principal, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Wallets:      p.Wallets,
		ActiveWallet: p.ActiveWallet,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
