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

package httplib

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"time"

	"github.com/drover-io/drover/lib/defaults"
)

// ClientOption sets custom HTTP client option
type ClientOption func(*http.Client)

// WithInsecure sets insecure TLS config
func WithInsecure() ClientOption {
	return func(c *http.Client) {
		tlsConfig := c.Transport.(*http.Transport).TLSClientConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
			c.Transport.(*http.Transport).TLSClientConfig = tlsConfig
		}
		tlsConfig.InsecureSkipVerify = true
	}
}

// WithTLSClientConfig sets TLS client configuration
func WithTLSClientConfig(tlsConfig *tls.Config) ClientOption {
	return func(c *http.Client) {
		c.Transport.(*http.Transport).TLSClientConfig = tlsConfig
	}
}

// WithTimeout sets timeout
func WithTimeout(t time.Duration) ClientOption {
	return func(c *http.Client) {
		c.Timeout = t
	}
}

// WithDialTimeout sets dial timeout
func WithDialTimeout(t time.Duration) ClientOption {
	return func(c *http.Client) {
		c.Transport.(*http.Transport).DialContext = (&net.Dialer{Timeout: t}).DialContext
	}
}

// WithCA to use a custom certificate authority for server validation
func WithCA(cert []byte) ClientOption {
	return func(c *http.Client) {
		transport := c.Transport.(*http.Transport)
		if transport.TLSClientConfig.RootCAs == nil {
			transport.TLSClientConfig.RootCAs = x509.NewCertPool()
		}
		transport.TLSClientConfig.RootCAs.AppendCertsFromPEM(cert)
	}
}

// GetClient returns secure or insecure client based on settings
func GetClient(insecure bool, options ...ClientOption) *http.Client {
	if insecure {
		options = append(options, WithInsecure())
	}
	return NewClient(options...)
}

// NewClient creates a new HTTP client with the specified list of configuration
// options
func NewClient(options ...ClientOption) *http.Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{},
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   defaults.HTTPRequestTimeout,
	}
	for _, o := range options {
		o(client)
	}
	return client
}
