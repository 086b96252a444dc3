package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "termexec"

// Service checks credentials against the configured users and clients and
// issues HS256 tokens.
type Service struct {
	users     map[string]User
	clients   map[string]Client
	jwtSecret []byte
	tokenTTL  time.Duration
}

type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// NewService validates cfg and builds a Service.
func NewService(cfg Config) (*Service, error) {
	s := &Service{
		users:     make(map[string]User, len(cfg.Users)),
		clients:   make(map[string]Client, len(cfg.Clients)),
		jwtSecret: []byte(cfg.JWTSecret),
		tokenTTL:  cfg.TokenTTL,
	}
	if len(s.jwtSecret) == 0 {
		s.jwtSecret = make([]byte, 32)
		if _, err := rand.Read(s.jwtSecret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = 24 * time.Hour
	}
	for _, u := range cfg.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return nil, errors.New("auth user needs username and password_hash")
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("auth user %s: password_hash is not a bcrypt hash", u.Username)
		}
		s.users[u.Username] = u
	}
	for _, c := range cfg.Clients {
		if c.ClientID == "" || c.ClientSecret == "" {
			return nil, errors.New("auth client needs client_id and client_secret")
		}
		s.clients[c.ClientID] = c
	}
	return s, nil
}

// HashPassword returns the bcrypt hash to put in a user's password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Authenticate checks req. Basic and client-secret logins get a fresh token.
func (s *Service) Authenticate(_ context.Context, req LoginRequest) (*Result, error) {
	switch req.Method {
	case MethodBasic:
		return s.basic(req.Username, req.Password)
	case MethodClientSecret:
		return s.clientSecret(req.ClientID, req.ClientSecret)
	case MethodJWT:
		return s.verify(req.Token)
	default:
		return nil, fmt.Errorf("unsupported auth method: %q", req.Method)
	}
}

func (s *Service) basic(username, password string) (*Result, error) {
	u, ok := s.users[username]
	if !ok || password == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(u.Username, u.Roles)
}

func (s *Service) clientSecret(id, secret string) (*Result, error) {
	c, ok := s.clients[id]
	if !ok || subtle.ConstantTimeCompare([]byte(c.ClientSecret), []byte(secret)) != 1 {
		return nil, ErrInvalidCredentials
	}
	return s.issue(c.ClientID, c.Scopes)
}

func (s *Service) verify(tokenString string) (*Result, error) {
	if tokenString == "" {
		return nil, ErrInvalidCredentials
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	return &Result{Subject: claims.Subject, Roles: claims.Roles}, nil
}

func (s *Service) issue(subject string, roles []string) (*Result, error) {
	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)
	claims := &Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subject,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Result{
		Subject: subject,
		Roles:   roles,
		Token:   &Token{Type: "Bearer", Value: signed, ExpiresAt: expiresAt},
	}, nil
}

// rolePermissions maps a role to the session actions it allows.
var rolePermissions = map[string][]string{
	"admin":    {ActionRead, ActionWrite},
	"operator": {ActionRead, ActionWrite},
	"viewer":   {ActionRead},
}

// HasPermission reports whether any of roles allows action.
func HasPermission(roles []string, action string) bool {
	for _, r := range roles {
		for _, a := range rolePermissions[r] {
			if a == action {
				return true
			}
		}
	}
	return false
}
