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

// Package httplib implements the shared pieces of the coordination API:
// credential parsing, response conversion and the security headers every
// response carries.
package httplib

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
)

// AuthCreds hold authentication credentials for the given HTTP request
type AuthCreds struct {
	// Type is auth HTTP auth type (either Bearer or Basic)
	Type string
	// Username is HTTP username
	Username string
	// Password holds password in case of Basic auth, http token otherwise
	Password string
}

// IsToken returns true when the credentials carry a bearer token
func (a *AuthCreds) IsToken() bool {
	return a.Type == AuthBearer
}

// ParseAuthHeaders parses authentication headers from HTTP request
// it currently detects Bearer and Basic auth types
func ParseAuthHeaders(r *http.Request) (*AuthCreds, error) {
	// oauth 2.0 bearer access tokens may come as a query parameter
	// http://self-issued.info/docs/draft-ietf-oauth-v2-bearer.html#query-param
	if r.URL.Query().Get(AccessTokenQueryParam) != "" {
		return &AuthCreds{
			Type:     AuthBearer,
			Password: r.URL.Query().Get(AccessTokenQueryParam),
		}, nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, trace.AccessDenied("unauthorized")
	}

	auth := strings.SplitN(authHeader, " ", 2)
	if len(auth) != 2 {
		return nil, trace.BadParameter("invalid auth header")
	}

	switch auth[0] {
	case AuthBasic:
		payload, err := base64.StdEncoding.DecodeString(auth[1])
		if err != nil {
			return nil, trace.BadParameter(err.Error())
		}
		pair := strings.SplitN(string(payload), ":", 2)
		if len(pair) != 2 {
			return nil, trace.BadParameter("bad header")
		}
		return &AuthCreds{Type: AuthBasic, Username: pair[0], Password: pair[1]}, nil
	case AuthBearer:
		return &AuthCreds{Type: AuthBearer, Password: auth[1]}, nil
	}
	return nil, trace.BadParameter("unsupported auth scheme")
}

const (
	// AuthBasic is username / password basic auth
	AuthBasic = "Basic"
	// AuthBearer is bearer tokens auth
	AuthBearer = "Bearer"
	// AccessTokenQueryParam URI query parameter
	AccessTokenQueryParam = "access_token"
)

// Message returns structured message response
func Message(msg string) interface{} {
	return map[string]string{"message": msg}
}

// OK returns structured OK response
func OK() interface{} {
	return Message("OK")
}

// ReplyUnauthorized replies with 401 Unauthorized and a generic message
// that does not leak whether the user exists
func ReplyUnauthorized(w http.ResponseWriter) {
	roundtrip.ReplyJSON(w, http.StatusUnauthorized, Message("unauthorized"))
}

// ReplyUnprocessable replies with 422 Unprocessable Entity for requests
// that parse as HTTP but carry a payload the server cannot interpret
func ReplyUnprocessable(w http.ResponseWriter, err error) {
	roundtrip.ReplyJSON(w, http.StatusUnprocessableEntity, Message(err.Error()))
}

// ConvertResponse converts an error in response to a trace error
// reconstructed from the response body
func ConvertResponse(re *roundtrip.Response, err error) (*roundtrip.Response, error) {
	if err != nil {
		if uerr, ok := err.(*url.Error); ok && uerr != nil && uerr.Err != nil {
			return nil, trace.ConnectionProblem(uerr.Err, uerr.Error())
		}
		return nil, trace.Wrap(err)
	}
	if re.Code() < 200 || re.Code() > 299 {
		return nil, trace.ReadError(re.Code(), re.Bytes())
	}
	return re, nil
}

// SetSecurityHeaders sets the security headers carried by every API response
func SetSecurityHeaders(h http.Header) {
	h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Permissions-Policy", "interest-cohort=()")
	h.Set("Content-Security-Policy", "frame-ancestors 'none'")
}

// Methods contains all HTTP methods
var Methods = []string{
	http.MethodOptions,
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
	http.MethodHead,
}
