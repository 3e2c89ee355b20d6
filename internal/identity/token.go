package identity

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenRequestBytes is the message a caller signs to prove possession of its
// private key when requesting an operator token. Both the node and its
// clients must build the same bytes.
func TokenRequestBytes(id Identity, signedAt int64) []byte {
	return []byte("operator_token\x1f" + string(id) + "\x1f" + strconv.FormatInt(signedAt, 10))
}

// OperatorClaims are the JWT claims for an operator token. Operator tokens
// authenticate callers of the node's mutating HTTP endpoints; they are
// independent of the instruction-level signatures the ledger verifies.
type OperatorClaims struct {
	jwt.RegisteredClaims

	// Identity is the caller's ledger identity (hex Ed25519 public key).
	Identity string `json:"identity"`
}

// TokenIssuer issues and verifies operator tokens signed with EdDSA.
// It reuses the node authority keypair so no separate signing key needs
// to be provisioned.
type TokenIssuer struct {
	key    *Keypair
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	issuerURL — the "iss" claim value; typically the node's base URL.
//	ttl        — token lifetime (default: 1 hour).
func NewTokenIssuer(key *Keypair, issuerURL string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{key: key, issuer: issuerURL, ttl: ttl}
}

// Issue creates a signed operator token for the given ledger identity.
func (t *TokenIssuer) Issue(id Identity) (string, error) {
	now := time.Now().UTC()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   string(id),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Identity: string(id),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(t.key.Private())
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an operator token, returning its claims.
func (t *TokenIssuer) Verify(tokenStr string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&OperatorClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.key.Public(), nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(*OperatorClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claims, nil
}
