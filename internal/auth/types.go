package auth

import (
	"errors"
	"time"
)

// Method is the credential type presented at login.
type Method string

const (
	MethodBasic        Method = "basic"         // username/password
	MethodClientSecret Method = "client_secret" // client_id/client_secret
	MethodJWT          Method = "jwt"           // previously issued token
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Actions on sessions. Reads cover status, list and get; writes cover
// start, exec, cancel and remove.
const (
	ActionRead  = "read"
	ActionWrite = "write"
)

// Result is the outcome of a successful authentication.
type Result struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles,omitempty"`
	Token   *Token   `json:"token,omitempty"`
}

type Token struct {
	Type      string    `json:"type"` // "Bearer"
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

type LoginRequest struct {
	Method       Method `json:"method"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Token        string `json:"token,omitempty"`
}

// User is a configured account. PasswordHash is a bcrypt hash.
type User struct {
	Username     string   `toml:"username" mapstructure:"username"`
	PasswordHash string   `toml:"password_hash" mapstructure:"password_hash"`
	Roles        []string `toml:"roles" mapstructure:"roles"`
}

// Client is a machine credential; Scopes act as roles.
type Client struct {
	ClientID     string   `toml:"client_id" mapstructure:"client_id"`
	ClientSecret string   `toml:"client_secret" mapstructure:"client_secret"`
	Scopes       []string `toml:"scopes" mapstructure:"scopes"`
}

// Config enables authentication on the API.
type Config struct {
	Enabled   bool          `toml:"enabled" mapstructure:"enabled"`
	JWTSecret string        `toml:"jwt_secret" mapstructure:"jwt_secret"` // random per process when empty
	TokenTTL  time.Duration `toml:"-" mapstructure:"token_ttl"`
	Users     []User        `toml:"users" mapstructure:"users"`
	Clients   []Client      `toml:"clients" mapstructure:"clients"`
}
