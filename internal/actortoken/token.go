// Package actortoken issues and checks the bearer tokens that identify the
// calling user by phone number.
package actortoken

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultTokenTTL is the default lifetime of an actor token.
	DefaultTokenTTL = 12 * time.Hour
	// DefaultLeeway is clock skew tolerance for token validation.
	DefaultLeeway = 15 * time.Second
	// Audience is the only audience actor tokens are minted for.
	Audience = "bloodhub"

	minSecretLen = 32
)

// Signer issues HS256 actor tokens.
type Signer struct {
	issuer string
	ttl    time.Duration
	secret []byte
}

// Verifier validates actor tokens minted by a Signer sharing the same secret.
type Verifier struct {
	issuer string
	leeway time.Duration
	secret []byte
}

// Options configures both halves.
type Options struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Leeway time.Duration
}

func normalize(opts Options) (Options, error) {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	if opts.Issuer == "" {
		return opts, errors.New("actor token issuer is required")
	}
	if len(opts.Secret) < minSecretLen {
		return opts, fmt.Errorf("actor token secret must be at least %d bytes", minSecretLen)
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTokenTTL
	}
	if opts.Leeway <= 0 {
		opts.Leeway = DefaultLeeway
	}
	return opts, nil
}

func NewSigner(opts Options) (*Signer, error) {
	opts, err := normalize(opts)
	if err != nil {
		return nil, err
	}
	return &Signer{issuer: opts.Issuer, ttl: opts.TTL, secret: []byte(opts.Secret)}, nil
}

func NewVerifier(opts Options) (*Verifier, error) {
	opts, err := normalize(opts)
	if err != nil {
		return nil, err
	}
	return &Verifier{issuer: opts.Issuer, leeway: opts.Leeway, secret: []byte(opts.Secret)}, nil
}

// Sign issues a token whose subject is the actor phone.
func (s *Signer) Sign(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", errors.New("actor phone is required")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   phone,
		Audience:  jwt.ClaimStrings{Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify validates signature, expiry, audience and issuer and returns the actor phone.
func (v *Verifier) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("token required")
	}
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithIssuer(v.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return "", err
	}
	phone := strings.TrimSpace(claims.Subject)
	if phone == "" {
		return "", errors.New("subject required")
	}
	return phone, nil
}

// BearerToken extracts a bearer token from request header.
func BearerToken(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
