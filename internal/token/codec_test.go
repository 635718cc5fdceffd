package token

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPEM(t *testing.T) (privatePEM, publicPEM string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	return privatePEM, publicPEM
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	privatePEM, publicPEM := testKeyPEM(t)
	codec, err := NewCodec(privatePEM, publicPEM, 3*time.Minute)
	require.NoError(t, err)
	return codec
}

// signInToken signs a sign-in request token the way the downstream system
// would, using the shared keypair.
func signInToken(t *testing.T, codec *Codec, claims SignInRequestClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(codec.privateKey)
	require.NoError(t, err)
	return raw
}

func TestNewCodecRejectsBadKeys(t *testing.T) {
	_, err := NewCodec("not a key", "", time.Minute)
	require.Error(t, err)

	privatePEM, _ := testKeyPEM(t)
	_, err = NewCodec(privatePEM, "not a key", time.Minute)
	require.Error(t, err)
}

func TestNewCodecDerivesPublicKey(t *testing.T) {
	privatePEM, _ := testKeyPEM(t)
	codec, err := NewCodec(privatePEM, "", time.Minute)
	require.NoError(t, err)

	raw := signInToken(t, codec, SignInRequestClaims{
		ServerBaseURL: "https://x",
		Path:          "/return",
	})
	_, err = codec.Verify(raw, false)
	assert.NoError(t, err)
}

func TestVerifyRecoversClaims(t *testing.T) {
	codec := newTestCodec(t)
	email := "jane@x.org"
	login := "jdoe"

	raw := signInToken(t, codec, SignInRequestClaims{
		Email:         &email,
		Login:         &login,
		ServerBaseURL: "https://x",
		Path:          "/return",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})

	claims, err := codec.Verify(raw, false)
	require.NoError(t, err)
	require.NotNil(t, claims.Email)
	require.NotNil(t, claims.Login)
	assert.Equal(t, "jane@x.org", *claims.Email)
	assert.Equal(t, "jdoe", *claims.Login)
	assert.Equal(t, "https://x", claims.ServerBaseURL)
	assert.Equal(t, "/return", claims.Path)
}

func TestVerifyOmittedClaimsStayNil(t *testing.T) {
	codec := newTestCodec(t)
	raw := signInToken(t, codec, SignInRequestClaims{
		ServerBaseURL: "https://x",
		Path:          "/return",
	})

	claims, err := codec.Verify(raw, false)
	require.NoError(t, err)
	assert.Nil(t, claims.Email)
	assert.Nil(t, claims.Login)
}

func TestVerifyExpiry(t *testing.T) {
	codec := newTestCodec(t)
	raw := signInToken(t, codec, SignInRequestClaims{
		ServerBaseURL: "https://x",
		Path:          "/return",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := codec.Verify(raw, false)
	assert.ErrorIs(t, err, ErrExpired)

	claims, err := codec.Verify(raw, true)
	require.NoError(t, err)
	assert.Equal(t, "https://x", claims.ServerBaseURL)
}

func TestVerifyTamperedSignature(t *testing.T) {
	codec := newTestCodec(t)
	raw := signInToken(t, codec, SignInRequestClaims{
		ServerBaseURL: "https://x",
		Path:          "/return",
	})

	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[10] == 'A' {
		sig[10] = 'B'
	} else {
		sig[10] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err := codec.Verify(tampered, false)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyMalformedToken(t *testing.T) {
	codec := newTestCodec(t)
	_, err := codec.Verify("not-a-token", false)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	codec := newTestCodec(t)
	other := newTestCodec(t)

	raw := signInToken(t, other, SignInRequestClaims{
		ServerBaseURL: "https://x",
		Path:          "/return",
	})
	_, err := codec.Verify(raw, false)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	codec := newTestCodec(t)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, SignInRequestClaims{
		ServerBaseURL: "https://x",
		Path:          "/return",
	}).SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = codec.Verify(raw, false)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestIssueRoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	original := signInToken(t, codec, SignInRequestClaims{
		ServerBaseURL: "https://x",
		Path:          "/return",
	})
	email := "jane@x.org"

	raw, err := codec.Issue(original, &email)
	require.NoError(t, err)

	claims, err := codec.DecodeSuccess(raw)
	require.NoError(t, err)
	assert.Equal(t, original, claims.SignInRequestToken)
	require.NotNil(t, claims.Email)
	assert.Equal(t, "jane@x.org", *claims.Email)
	assert.True(t, claims.Success)

	require.NotNil(t, claims.IssuedAt)
	require.NotNil(t, claims.ExpiresAt)
	assert.Equal(t, 3*time.Minute, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestIssueWithoutEmail(t *testing.T) {
	codec := newTestCodec(t)
	raw, err := codec.Issue("original", nil)
	require.NoError(t, err)

	claims, err := codec.DecodeSuccess(raw)
	require.NoError(t, err)
	assert.Nil(t, claims.Email)
	assert.Equal(t, "original", claims.SignInRequestToken)
}
