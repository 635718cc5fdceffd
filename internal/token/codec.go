// Package token verifies inbound sign-in request tokens and issues outbound
// success tokens. Both directions use the same ES256 keypair, which is also
// the keypair registered with the downstream system; verification and
// issuance are symmetric operations on the same trust root.
package token

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalid covers structurally malformed tokens and tokens whose
	// signature does not verify.
	ErrInvalid = errors.New("invalid token")
	// ErrExpired covers tokens with a valid signature but a past expiry.
	ErrExpired = errors.New("token expired")
)

// SignInRequestClaims are the claims of an inbound sign-in request token,
// produced by the downstream system. Email and Login distinguish absent from
// empty: a nil Login means the user has never signed in through this
// authenticator before.
type SignInRequestClaims struct {
	Email         *string `json:"email,omitempty"`
	Login         *string `json:"login,omitempty"`
	ServerBaseURL string  `json:"server_base_url"`
	Path          string  `json:"path"`
	jwt.RegisteredClaims
}

// SuccessClaims are the claims of an outbound success token. The original
// raw sign-in request token is embedded so the downstream system can match
// the response to the pending login attempt.
type SuccessClaims struct {
	SignInRequestToken string  `json:"sign_in_request_token"`
	Email              *string `json:"email"`
	Success            bool    `json:"success"`
	jwt.RegisteredClaims
}

// Codec verifies and issues signed tokens with one ES256 keypair.
type Codec struct {
	privateKey *ecdsa.PrivateKey
	publicKey  *ecdsa.PublicKey
	validity   time.Duration
}

// NewCodec parses the PEM-encoded keypair and returns a codec issuing tokens
// valid for the given duration. An empty public key PEM derives the public
// half from the private key. Key parse failures are configuration errors and
// fatal at startup.
func NewCodec(privateKeyPEM, publicKeyPEM string, validity time.Duration) (*Codec, error) {
	privateKey, err := jwt.ParseECPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse token private key: %w", err)
	}

	publicKey := &privateKey.PublicKey
	if publicKeyPEM != "" {
		publicKey, err = jwt.ParseECPublicKeyFromPEM([]byte(publicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parse token public key: %w", err)
		}
	}

	return &Codec{
		privateKey: privateKey,
		publicKey:  publicKey,
		validity:   validity,
	}, nil
}

// Verify checks the signature of a raw sign-in request token and returns its
// claims. With allowExpired set, expiry is not checked even when present.
// Callers must reject empty tokens before this call; an empty string is a
// missing token, not a codec failure.
func (c *Codec) Verify(raw string, allowExpired bool) (*SignInRequestClaims, error) {
	var opts []jwt.ParserOption
	if allowExpired {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	parsed, err := jwt.ParseWithClaims(raw, &SignInRequestClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return c.publicKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	claims, ok := parsed.Claims.(*SignInRequestClaims)
	if !ok {
		return nil, ErrInvalid
	}
	return claims, nil
}

// Issue signs a success token embedding the original raw sign-in request
// token and the resolved email. iat is the current time, exp is iat plus the
// configured validity.
func (c *Codec) Issue(signInRequestToken string, email *string) (string, error) {
	now := time.Now()
	claims := SuccessClaims{
		SignInRequestToken: signInRequestToken,
		Email:              email,
		Success:            true,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.validity)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign success token: %w", err)
	}
	return signed, nil
}

// DecodeSuccess verifies and decodes a success token issued by this codec.
func (c *Codec) DecodeSuccess(raw string) (*SuccessClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &SuccessClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return c.publicKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	claims, ok := parsed.Claims.(*SuccessClaims)
	if !ok {
		return nil, ErrInvalid
	}
	return claims, nil
}
