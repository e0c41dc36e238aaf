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

package httpapi

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/drover-io/drover/lib/command"
	"github.com/drover-io/drover/lib/httplib"
	"github.com/drover-io/drover/lib/users"
	"github.com/drover-io/drover/lib/wire"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
)

// Client is the worker's HTTP transport to the coordination API
type Client struct {
	roundtrip.Client
}

// NewAuthenticatedClient exchanges the credentials for a bearer token
// and returns a client that authenticates with it
func NewAuthenticatedClient(addr, username, password string, params ...roundtrip.ClientParam) (*Client, error) {
	unauthenticated, err := NewClient(addr, params...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	re, err := httplib.ConvertResponse(unauthenticated.Client.PostForm(
		context.TODO(), unauthenticated.Endpoint("token"), url.Values{
			"username": []string{username},
			"password": []string{password},
		}))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var result users.LoginResult
	if err := json.Unmarshal(re.Bytes(), &result); err != nil {
		return nil, trace.Wrap(err)
	}
	return NewBearerClient(addr, result.AccessToken, params...)
}

// NewBearerClient returns a client that authenticates every request with
// the given token
func NewBearerClient(addr, token string, params ...roundtrip.ClientParam) (*Client, error) {
	params = append(params, roundtrip.BearerAuth(token))
	return NewClient(addr, params...)
}

// NewClient returns an HTTP client communicating with the coordination API
func NewClient(addr string, params ...roundtrip.ClientParam) (*Client, error) {
	c, err := roundtrip.NewClient(addr, "", params...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Client{*c}, nil
}

// Close releases the client resources
func (c *Client) Close() error {
	return nil
}

// SendServerRequest delivers the request and returns the server's reply
func (c *Client) SendServerRequest(ctx context.Context, req wire.Value) (*command.Response, error) {
	out, err := httplib.ConvertResponse(c.PostJSON(ctx, c.Endpoint("serverrequest"), req))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var response command.Response
	if err := json.Unmarshal(out.Bytes(), &response); err != nil {
		return nil, trace.Wrap(err)
	}
	return &response, nil
}

// SendStatusUpdate delivers an execution report, at most once
func (c *Client) SendStatusUpdate(ctx context.Context, update command.StatusUpdate) error {
	_, err := httplib.ConvertResponse(c.PostJSON(ctx, c.Endpoint("status"), update))
	if err != nil {
		return trace.Wrap(err)
	}
	return nil
}
