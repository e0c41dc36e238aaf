/*
Copyright 2025 Drover, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package usersservice implements the local identity service: bcrypt
// password verification and signed bearer tokens carrying subject,
// issue time and expiry.
package usersservice

import (
	"sync"
	"time"

	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/defaults"
	"github.com/drover-io/drover/lib/httplib"
	"github.com/drover-io/drover/lib/users"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gravitational/trace"
	"github.com/gravitational/ttlmap"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Config configures the identity service
type Config struct {
	// Users is the initial user table, usually loaded from the users file
	Users []users.User
	// SigningKey signs issued bearer tokens. Generated when empty, which
	// invalidates outstanding tokens across restarts.
	SigningKey []byte
	// TokenTTL is the validity period of issued tokens
	TokenTTL time.Duration
	// Simulation auto-creates an unknown client user on first contact.
	// Must be off in production.
	Simulation bool
	// Clock is used for token timestamps
	Clock clockwork.Clock
	// FieldLogger is used for logging
	FieldLogger logrus.FieldLogger
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *Config) CheckAndSetDefaults() error {
	for i := range c.Users {
		if err := c.Users[i].Check(); err != nil {
			return trace.Wrap(err)
		}
	}
	if len(c.SigningKey) == 0 {
		key, err := users.CryptoRandomToken(32)
		if err != nil {
			return trace.Wrap(err)
		}
		c.SigningKey = []byte(key)
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = defaults.TokenTTL
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.FieldLogger == nil {
		c.FieldLogger = logrus.WithField(trace.Component, constants.ComponentUsers)
	}
	return nil
}

// New returns an identity service over the configured user table
func New(config Config) (*Service, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	verified, err := ttlmap.New(defaults.TokenCacheCapacity)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	service := &Service{
		FieldLogger: config.FieldLogger,
		config:      config,
		users:       make(map[string]users.User, len(config.Users)),
		verified:    verified,
	}
	for _, user := range config.Users {
		service.users[user.Name] = user
	}
	return service, nil
}

// Service implements users.Identity over an in-memory user table
type Service struct {
	logrus.FieldLogger
	config Config

	sync.Mutex
	users map[string]users.User
	// verified caches token subjects for the remaining token validity
	verified *ttlmap.TTLMap
}

// GetUser returns the named user
func (s *Service) GetUser(username string) (*users.User, error) {
	s.Lock()
	defer s.Unlock()
	user, exists := s.users[username]
	if !exists {
		return nil, trace.NotFound("user %q not found", username)
	}
	return &user, nil
}

// CreateUser adds a user to the table
func (s *Service) CreateUser(user users.User) error {
	if err := user.Check(); err != nil {
		return trace.Wrap(err)
	}
	s.Lock()
	defer s.Unlock()
	if _, exists := s.users[user.Name]; exists {
		return trace.AlreadyExists("user %q already exists", user.Name)
	}
	s.users[user.Name] = user
	return nil
}

// AuthenticateUser checks the password against the stored hash and returns
// the user. In simulation mode unknown users are created on first contact
// with the client role.
func (s *Service) AuthenticateUser(username, password string) (*users.User, error) {
	if username == "" || password == "" {
		return nil, trace.AccessDenied("missing username or password")
	}
	user, err := s.GetUser(username)
	if err != nil {
		if !trace.IsNotFound(err) || !s.config.Simulation {
			return nil, trace.AccessDenied("invalid username or password")
		}
		user, err = s.simulateUser(username, password)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}
	err = bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password))
	if err != nil {
		return nil, trace.AccessDenied("invalid username or password")
	}
	return user, nil
}

// simulateUser creates a client user with the presented password
func (s *Service) simulateUser(username, password string) (*users.User, error) {
	pass := users.Password(password)
	if err := pass.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	user := users.User{
		Name:           username,
		HashedPassword: string(hash),
		Role:           constants.RoleClient,
	}
	if err := s.CreateUser(user); err != nil {
		return nil, trace.Wrap(err)
	}
	s.WithField(constants.FieldUser, username).Info("Simulation mode created user.")
	return &user, nil
}

// SignIn authenticates and mints a bearer token for the user
func (s *Service) SignIn(username, password string) (*users.LoginResult, error) {
	user, err := s.AuthenticateUser(username, password)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	now := s.config.Clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   user.Name,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString(s.config.SigningKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &users.LoginResult{
		AccessToken: token,
		TokenType:   users.TokenTypeBearer,
	}, nil
}

// AuthenticateToken verifies the bearer token and returns the subject user
func (s *Service) AuthenticateToken(token string) (*users.User, error) {
	if token == "" {
		return nil, trace.AccessDenied("missing bearer token")
	}
	if username, cached := s.cachedSubject(token); cached {
		user, err := s.GetUser(username)
		if err != nil {
			return nil, trace.AccessDenied("token subject %q unknown", username)
		}
		return user, nil
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return s.config.SigningKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.config.Clock.Now),
		jwt.WithLeeway(defaults.TokenLeeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, trace.AccessDenied("invalid token: %v", err)
	}
	user, err := s.GetUser(claims.Subject)
	if err != nil {
		return nil, trace.AccessDenied("token subject %q unknown", claims.Subject)
	}
	s.cacheSubject(token, claims)
	return user, nil
}

// AuthenticateRequest resolves parsed HTTP credentials to a user
func (s *Service) AuthenticateRequest(creds httplib.AuthCreds) (*users.User, error) {
	if creds.IsToken() {
		user, err := s.AuthenticateToken(creds.Password)
		return user, trace.Wrap(err)
	}
	user, err := s.AuthenticateUser(creds.Username, creds.Password)
	return user, trace.Wrap(err)
}

func (s *Service) cachedSubject(token string) (string, bool) {
	s.Lock()
	defer s.Unlock()
	subject, exists := s.verified.Get(token)
	if !exists {
		return "", false
	}
	return subject.(string), true
}

func (s *Service) cacheSubject(token string, claims *jwt.RegisteredClaims) {
	remaining := claims.ExpiresAt.Sub(s.config.Clock.Now())
	if remaining <= 0 {
		return
	}
	s.Lock()
	defer s.Unlock()
	if err := s.verified.Set(token, claims.Subject, remaining); err != nil {
		s.WithError(err).Debug("Failed to cache verified token.")
	}
}
