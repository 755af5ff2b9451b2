// Package auth issues and verifies the ed25519-signed JWTs that identify
// participants. Guests get a token carrying their display name; registered
// users are looked up by id.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CookieName is the cookie the websocket and REST handlers read the token from.
const CookieName = "auth_token"

var ErrInvalidToken = errors.New("invalid token")

// Claims identify one participant.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Guest bool   `json:"guest,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the verified content of a token.
type Identity struct {
	ID    uuid.UUID
	Name  string
	Guest bool
}

// Issuer signs and verifies tokens with one key pair.
type Issuer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	// expire of 0 issues tokens without an exp claim.
	expire time.Duration
	now    func() time.Time
}

// NewIssuer generates a fresh key pair. Tokens do not survive a restart.
func NewIssuer(expire time.Duration) (*Issuer, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Issuer{private: private, public: public, expire: expire, now: time.Now}, nil
}

// NewIssuerFromPath reads a raw ed25519 key pair from disk.
func NewIssuerFromPath(privatePath, publicPath string, expire time.Duration) (*Issuer, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("key files are not raw ed25519 keys")
	}
	return &Issuer{
		private: ed25519.PrivateKey(privateKeyData),
		public:  ed25519.PublicKey(publicKeyData),
		expire:  expire,
		now:     time.Now,
	}, nil
}

// Issue signs a token for id.
func (i *Issuer) Issue(id Identity) (string, error) {
	now := i.now()
	claims := Claims{
		Name:  id.Name,
		Guest: id.Guest,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.ID.String(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if i.expire > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.expire))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(i.private)
}

// IssueGuest creates a new guest identity and its token.
func (i *Issuer) IssueGuest(name string) (Identity, string, error) {
	id := Identity{ID: uuid.New(), Name: name, Guest: true}
	token, err := i.Issue(id)
	if err != nil {
		return Identity{}, "", err
	}
	return id, token, nil
}

// Authenticate verifies a token and returns who it identifies.
func (i *Issuer) Authenticate(tokenString string) (Identity, error) {
	var claims Claims
	t, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.public, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return Identity{}, fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return Identity{}, ErrInvalidToken
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: bad subject: %v", ErrInvalidToken, err)
	}
	return Identity{ID: id, Name: claims.Name, Guest: claims.Guest}, nil
}
