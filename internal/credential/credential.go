// Package credential mints the short-lived signed tokens a device presents
// as its MQTT password.
//
// Tokens are JWTs with the cloud project as audience, signed with the device
// private key (ES256 or RS256). The broker accepts a token until its exp
// claim; after that the connection is refused or dropped and a new token
// must be issued.
package credential

import (
	"crypto"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/iotcore-client/internal/keystore"
)

// DefaultMaxTokenSize is the token buffer size used when none is configured.
const DefaultMaxTokenSize = 625

// DefaultTTL is the token lifetime used when none is configured.
const DefaultTTL = time.Hour

// Identity names the device towards the broker.
type Identity struct {
	// ProjectID is the cloud project, used as the token audience.
	ProjectID string

	// DevicePath is the fully qualified device name, used as MQTT client ID.
	DevicePath string
}

// Credential is a signed token with its validity window.
type Credential struct {
	Token    string
	IssuedAt time.Time
	TTL      time.Duration
}

// ExpiresAt returns the moment the token stops being accepted.
func (c Credential) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.TTL)
}

// Expired reports whether the credential is unusable at now, treating the
// last margin of its lifetime as already expired.
func (c Credential) Expired(now time.Time, margin time.Duration) bool {
	if c.IsZero() {
		return true
	}
	return !now.Add(margin).Before(c.ExpiresAt())
}

// IsZero reports whether no token has been issued.
func (c Credential) IsZero() bool {
	return c.Token == ""
}

// claims is the IoT Core token body. The audience is a plain string, not the
// array form jwt.RegisteredClaims may produce.
type claims struct {
	Audience  string           `json:"aud"`
	IssuedAt  *jwt.NumericDate `json:"iat"`
	ExpiresAt *jwt.NumericDate `json:"exp"`
}

func (c claims) GetExpirationTime() (*jwt.NumericDate, error) { return c.ExpiresAt, nil }
func (c claims) GetIssuedAt() (*jwt.NumericDate, error)       { return c.IssuedAt, nil }
func (c claims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c claims) GetIssuer() (string, error)                   { return "", nil }
func (c claims) GetSubject() (string, error)                  { return "", nil }
func (c claims) GetAudience() (jwt.ClaimStrings, error)       { return jwt.ClaimStrings{c.Audience}, nil }

// Issuer signs credentials.
type Issuer struct {
	now          func() time.Time
	maxTokenSize int
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock sets the time source read on every Issue call.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// WithMaxTokenSize bounds the signed token length in bytes.
func WithMaxTokenSize(n int) Option {
	return func(i *Issuer) {
		if n > 0 {
			i.maxTokenSize = n
		}
	}
}

// NewIssuer creates an Issuer using the wall clock and DefaultMaxTokenSize.
func NewIssuer(opts ...Option) *Issuer {
	i := &Issuer{
		now:          time.Now,
		maxTokenSize: DefaultMaxTokenSize,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue signs a token for identity valid for ttl from now.
//
// The identity's project ID is assumed present; configuration validation
// rejects it earlier.
func (i *Issuer) Issue(key keystore.PrivateKey, identity Identity, ttl time.Duration) (Credential, error) {
	if ttl < time.Second {
		return Credential{}, fmt.Errorf("%w: got %v", ErrInvalidTTL, ttl)
	}

	method, signingKey, err := signerFor(key)
	if err != nil {
		return Credential{}, err
	}

	issuedAt := i.now().Truncate(time.Second)
	token := jwt.NewWithClaims(method, claims{
		Audience:  identity.ProjectID,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
	})

	signed, err := token.SignedString(signingKey)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %w", ErrSigning, err)
	}
	if len(signed) > i.maxTokenSize {
		return Credential{}, fmt.Errorf("%w: token of %d bytes exceeds buffer of %d bytes",
			ErrSigning, len(signed), i.maxTokenSize)
	}

	return Credential{
		Token:    signed,
		IssuedAt: issuedAt,
		TTL:      ttl,
	}, nil
}

// signerFor parses the key for its declared algorithm.
func signerFor(key keystore.PrivateKey) (jwt.SigningMethod, crypto.Signer, error) {
	if key.Encoding() != keystore.PEM {
		return nil, nil, fmt.Errorf("%w: unsupported key encoding %q", ErrSigning, key.Encoding())
	}

	switch key.Algorithm() {
	case keystore.ES256:
		k, err := jwt.ParseECPrivateKeyFromPEM(key.Bytes())
		if err != nil {
			return nil, nil, fmt.Errorf("%w: parsing ES256 key: %w", ErrSigning, err)
		}
		return jwt.SigningMethodES256, k, nil
	case keystore.RS256:
		k, err := jwt.ParseRSAPrivateKeyFromPEM(key.Bytes())
		if err != nil {
			return nil, nil, fmt.Errorf("%w: parsing RS256 key: %w", ErrSigning, err)
		}
		return jwt.SigningMethodRS256, k, nil
	default:
		return nil, nil, fmt.Errorf("%w: unsupported key algorithm %q", ErrSigning, key.Algorithm())
	}
}
