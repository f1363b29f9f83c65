package google

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification failure classes. Every failed Verify call returns an error
// matching exactly one of these, or an unclassified error when the key
// authority itself could not be reached (see IsTokenError).
var (
	ErrMalformedToken    = errors.New("malformed token")
	ErrUnknownSigningKey = errors.New("token signed with unknown key")
	ErrSignatureInvalid  = errors.New("token signature invalid")
	ErrTokenExpired      = errors.New("token expired")
	ErrIssuerMismatch    = errors.New("token issuer not accepted")
	ErrAudienceMismatch  = errors.New("token audience mismatch")
)

// Google issues ID tokens under either issuer form.
var acceptedIssuers = [2]string{"https://accounts.google.com", "accounts.google.com"}

// Identity is the verified payload of a Google ID token. It exists only
// transiently per request; nothing here is persisted directly.
type Identity struct {
	Subject   string
	Email     string
	Name      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
	Audience  string
}

type idTokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Verifier validates Google ID tokens against the cached key set. It makes
// no network calls itself; all remote access goes through the KeySetCache.
type Verifier struct {
	audience string
	keys     *KeySetCache
	parser   *jwt.Parser
}

// NewVerifier builds a verifier for tokens issued to the given OAuth client
// ID (the expected audience).
func NewVerifier(audience string, keys *KeySetCache) *Verifier {
	return &Verifier{
		audience: audience,
		keys:     keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify checks the raw ID token's signature and claims and returns the
// identity it asserts. Only RS256 is accepted; the key is located by the
// token header's kid in the current key set snapshot.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	claims := &idTokenClaims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing key id", ErrMalformedToken)
		}
		ks, err := v.keys.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch signing keys: %w", err)
		}
		key := ks.ByID(kid)
		if key == nil {
			return nil, fmt.Errorf("%w: kid %q", ErrUnknownSigningKey, kid)
		}
		return key.PublicKey()
	})
	if err != nil {
		return nil, classify(err)
	}

	if !issuerAccepted(claims.Issuer) {
		return nil, fmt.Errorf("%w: %q", ErrIssuerMismatch, claims.Issuer)
	}

	name := claims.Name
	if name == "" {
		name = "Unknown"
	}
	id := &Identity{
		Subject:  claims.Subject,
		Email:    claims.Email,
		Name:     name,
		Issuer:   claims.Issuer,
		Audience: v.audience,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// IsTokenError reports whether err describes a problem with the presented
// token itself, as opposed to a failure to reach the key authority. Token
// errors are the caller's fault and safe to echo back; everything else
// should surface as a generic service failure.
func IsTokenError(err error) bool {
	for _, class := range []error{
		ErrMalformedToken, ErrUnknownSigningKey, ErrSignatureInvalid,
		ErrTokenExpired, ErrIssuerMismatch, ErrAudienceMismatch,
	} {
		if errors.Is(err, class) {
			return true
		}
	}
	return false
}

func issuerAccepted(iss string) bool {
	return iss == acceptedIssuers[0] || iss == acceptedIssuers[1]
}

// classify maps golang-jwt parse errors onto our failure classes. Errors
// already carrying one of our classes (from the keyfunc) pass through, and
// so do key-authority fetch failures, which stay unclassified.
func classify(err error) error {
	if IsTokenError(err) {
		return err
	}
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrAudienceMismatch, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %v", ErrIssuerMismatch, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return err
}

// PublicKey reassembles the RSA public key from its JWK components.
func (k *SigningKey) PublicKey() (*rsa.PublicKey, error) {
	e := new(big.Int).SetBytes(k.Exponent)
	if !e.IsInt64() || e.Int64() <= 0 || e.Int64() > int64(^uint32(0)) {
		return nil, fmt.Errorf("invalid RSA exponent for kid %q", k.KeyID)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(k.Modulus),
		E: int(e.Int64()),
	}, nil
}
