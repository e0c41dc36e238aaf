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

// Package users defines the identity surface of the coordination API:
// the user model, the token shape and the Identity service interface.
package users

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/defaults"
	"github.com/drover-io/drover/lib/httplib"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/bcrypt"
)

// User is one entry of the local user table
type User struct {
	// Name is the unique user name, workers authenticate with their
	// node name
	Name string `json:"name"`
	// HashedPassword is the bcrypt hash of the user's password
	HashedPassword string `json:"password"`
	// Role is one of constants.RoleServer, RoleClient, RoleObserver
	Role string `json:"role"`
}

// NewUser hashes the cleartext password and returns the user entry
func NewUser(name, password, role string) (*User, error) {
	pass := Password(password)
	if err := pass.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	user := &User{
		Name:           name,
		HashedPassword: string(hash),
		Role:           role,
	}
	if err := user.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	return user, nil
}

// Check validates the user entry
func (u *User) Check() error {
	if u.Name == "" {
		return trace.BadParameter("missing parameter name")
	}
	if u.HashedPassword == "" {
		return trace.BadParameter("user %q: missing parameter password", u.Name)
	}
	switch u.Role {
	case constants.RoleServer, constants.RoleClient, constants.RoleObserver:
	default:
		return trace.BadParameter("user %q: unknown role %q", u.Name, u.Role)
	}
	return nil
}

// LoginResult is returned by the token endpoints
type LoginResult struct {
	// AccessToken is the signed bearer token
	AccessToken string `json:"access_token"`
	// TokenType is always "bearer"
	TokenType string `json:"token_type"`
}

// TokenTypeBearer is the only issued token type
const TokenTypeBearer = "bearer"

// Identity mints and verifies the credentials every control-plane request
// carries
type Identity interface {
	// AuthenticateUser checks the password against the stored hash and
	// returns the user
	AuthenticateUser(username, password string) (*User, error)
	// SignIn authenticates and mints a bearer token for the user
	SignIn(username, password string) (*LoginResult, error)
	// AuthenticateToken verifies the bearer token and returns the subject
	// user, rejecting expired and malformed tokens
	AuthenticateToken(token string) (*User, error)
	// AuthenticateRequest resolves parsed HTTP credentials to a user
	AuthenticateRequest(creds httplib.AuthCreds) (*User, error)
	// GetUser returns the named user
	GetUser(username string) (*User, error)
	// CreateUser adds a user to the table
	CreateUser(user User) error
}

// Password enforces sanity constraints on cleartext passwords before they
// are hashed
type Password []byte

// Check returns nil, if password matches relaxed requirements
func (p *Password) Check() error {
	if len(*p) < defaults.MinPasswordLength {
		return trace.BadParameter("password is shorter than the minimum of %v characters",
			defaults.MinPasswordLength)
	}
	if len(*p) > defaults.MaxPasswordLength {
		return trace.BadParameter("password is longer than the maximum of %v characters",
			defaults.MaxPasswordLength)
	}
	return nil
}

// CryptoRandomToken generates crypto-strong pseudo random token
func CryptoRandomToken(length int) (string, error) {
	randomBytes := make([]byte, length)
	if _, err := rand.Reader.Read(randomBytes); err != nil {
		return "", trace.Wrap(err)
	}
	return hex.EncodeToString(randomBytes), nil
}
