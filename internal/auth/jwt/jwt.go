package jwt

import (
	"crypto/rsa"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("token has expired")
	ErrInvalidAlgorithm  = errors.New("invalid signing algorithm")
	ErrMissingPublicKey  = errors.New("public key is required")
	ErrMissingPrivateKey = errors.New("private key is required to sign tokens")
)

// DefaultTokenTTL is how long a freshly minted session token stays valid.
const DefaultTokenTTL = 14 * 24 * time.Hour

// Claims represents the session claims carried by a bearer token.
// The registered subject is the session ID.
type Claims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

// SessionID returns the session ID the token was issued for
func (c *Claims) SessionID() string {
	return c.Subject
}

// Service verifies and mints RS256 bearer tokens
type Service struct {
	publicKey  *rsa.PublicKey
	privateKey *rsa.PrivateKey
}

// NewService creates a JWT service from PEM-encoded keys. The private
// key may be nil; such a service can verify but not sign.
func NewService(publicPEM, privatePEM []byte) (*Service, error) {
	if len(publicPEM) == 0 {
		return nil, ErrMissingPublicKey
	}
	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicPEM)
	if err != nil {
		return nil, err
	}

	s := &Service{publicKey: publicKey}
	if len(privatePEM) > 0 {
		s.privateKey, err = jwt.ParseRSAPrivateKeyFromPEM(privatePEM)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewServiceFromFiles creates a JWT service from PEM key files
func NewServiceFromFiles(publicKeyPath, privateKeyPath string) (*Service, error) {
	publicPEM, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, err
	}
	var privatePEM []byte
	if privateKeyPath != "" {
		privatePEM, err = os.ReadFile(privateKeyPath)
		if err != nil {
			return nil, err
		}
	}
	return NewService(publicPEM, privatePEM)
}

// GenerateToken mints a signed token for the given session and user
func (s *Service) GenerateToken(sessionID, uid string, ttl time.Duration) (string, error) {
	if s.privateKey == nil {
		return "", ErrMissingPrivateKey
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	claims := &Claims{
		UID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(s.privateKey)
}

// VerifyBearer validates an Authorization header value and returns the
// decoded session claims. The "Bearer" scheme prefix is stripped first.
func (s *Service) VerifyBearer(bearerValue string) (*Claims, error) {
	tokenString := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(bearerValue), "Bearer"))
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrInvalidAlgorithm
		}
		return s.publicKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, ErrInvalidAlgorithm) {
			return nil, ErrInvalidAlgorithm
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
