// Package identity issues the credential a device presents to its peers: an
// Ed25519 key pair plus a self-signed JWT carrying the common name, usages,
// and expiry.
package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jaakkos/peertasks/internal/app"
	"github.com/jaakkos/peertasks/internal/domain"
)

// DefaultValidity is the lifetime of newly issued credentials.
const DefaultValidity = 30 * 24 * time.Hour

// Keyring persists credentials and the local peer id. Implemented by sqlite.Store.
type Keyring interface {
	LoadCredential(ctx context.Context, label string) (*domain.Credential, error)
	SaveCredential(ctx context.Context, c *domain.Credential) error
	DeleteCredential(ctx context.Context, label string) error
	EnsureLocalPeerID(ctx context.Context, gen func() string) (string, error)
}

// Claims is the token payload.
type Claims struct {
	Usages     []string          `json:"usages"`
	Attributes map[string]string `json:"attrs,omitempty"`
	jwt.RegisteredClaims
}

// Provider implements app.CredentialProvider.
type Provider struct {
	keyring  Keyring
	validity time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

var _ app.CredentialProvider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithValidity sets the lifetime of new credentials.
func WithValidity(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.validity = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProvider returns a provider that stores credentials in keyring.
func NewProvider(keyring Keyring, opts ...Option) *Provider {
	p := &Provider{
		keyring:  keyring,
		validity: DefaultValidity,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// LocalPeerID returns the device's stable id, generating it on first use.
func (p *Provider) LocalPeerID(ctx context.Context) (string, error) {
	return p.keyring.EnsureLocalPeerID(ctx, uuid.NewString)
}

// CurrentCredential loads the credential under label and checks its token
// signature. It returns nil, nil when nothing is stored.
func (p *Provider) CurrentCredential(ctx context.Context, label string) (*domain.Credential, error) {
	c, err := p.keyring.LoadCredential(ctx, label)
	if err != nil || c == nil {
		return nil, err
	}
	claims, err := Verify(c.Token, ed25519.PublicKey(c.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("credential %s: %w", label, err)
	}
	if claims.Subject != c.CommonName {
		return nil, fmt.Errorf("credential %s: token subject %q does not match %q", label, claims.Subject, c.CommonName)
	}
	if claims.ExpiresAt != nil {
		c.NotAfter = claims.ExpiresAt.Time
	}
	return c, nil
}

// CreateCredential issues a new key pair and token for the common name in
// attributes and stores it under label, replacing any previous one.
func (p *Provider) CreateCredential(ctx context.Context, usages []string, attributes map[string]string, label string) (*domain.Credential, error) {
	cn := attributes[domain.AttrCommonName]
	if cn == "" {
		return nil, errors.New("credential: missing common name")
	}
	peerID, err := p.LocalPeerID(ctx)
	if err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("credential: generate key: %w", err)
	}

	// Tokens carry whole seconds; keep NotAfter identical to what is signed.
	issued := p.now().UTC().Truncate(time.Second)
	notAfter := issued.Add(p.validity)
	claims := Claims{
		Usages:     usages,
		Attributes: attributes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    peerID,
			Subject:   cn,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issued),
			NotBefore: jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(notAfter),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
	if err != nil {
		return nil, fmt.Errorf("credential: sign: %w", err)
	}

	c := &domain.Credential{
		Label:      label,
		PeerID:     peerID,
		CommonName: cn,
		Usages:     usages,
		Attributes: attributes,
		PublicKey:  pub,
		PrivateKey: priv,
		Token:      token,
		IssuedAt:   issued,
		NotAfter:   notAfter,
	}
	if err := p.keyring.SaveCredential(ctx, c); err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}
	p.logger.Debug("credential stored", zap.String("label", label), zap.String("common_name", cn))
	return c, nil
}

// DeleteCredential removes the credential under label.
func (p *Provider) DeleteCredential(ctx context.Context, label string) error {
	return p.keyring.DeleteCredential(ctx, label)
}

// Verify checks the token signature against pub and returns its claims.
// Expiry is not enforced here; callers compare NotAfter themselves.
func Verify(token string, pub ed25519.PublicKey) (*Claims, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, errors.New("invalid public key")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return pub, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	return claims, nil
}
