package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidToken covers malformed, expired and wrongly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidAdminKey is returned when the maintenance key does not match.
	ErrInvalidAdminKey = errors.New("invalid admin key")
)

// Service validates bearer tokens issued by the marketplace for its users and
// the operator key guarding maintenance endpoints. Accounts themselves live in
// the marketplace; a token's subject is the account id.
type Service struct {
	secret       []byte
	adminKeyHash []byte
	now          func() time.Time
}

func NewService(secret, adminKeyHash string) *Service {
	return &Service{secret: []byte(secret), adminKeyHash: []byte(adminKeyHash), now: time.Now}
}

type claims struct {
	jwt.RegisteredClaims
}

// IssueToken signs a token for accountID, used by the CLI for operators and tests.
func (s *Service) IssueToken(accountID uuid.UUID, ttl time.Duration) (string, error) {
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

// ValidateToken returns the account id carried by token.
func (s *Service) ValidateToken(token string) (uuid.UUID, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}

// CheckAdminKey compares key with the configured bcrypt hash. With no hash
// configured every key is rejected.
func (s *Service) CheckAdminKey(key string) error {
	if len(s.adminKeyHash) == 0 || key == "" {
		return ErrInvalidAdminKey
	}
	if err := bcrypt.CompareHashAndPassword(s.adminKeyHash, []byte(key)); err != nil {
		return ErrInvalidAdminKey
	}
	return nil
}

// HashAdminKey produces the value for ADMIN_KEY_HASH.
func HashAdminKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
