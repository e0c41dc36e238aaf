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

package client

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/drover-io/drover/lib/blob"
	"github.com/drover-io/drover/lib/httplib"
	"github.com/drover-io/drover/lib/users"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
)

// Client is HTTP client to the BLOB storage
type Client struct {
	roundtrip.Client
}

// NewAuthenticatedClient exchanges the credentials for a storage token
// and returns a client that authenticates with it
func NewAuthenticatedClient(addr, username, password string, params ...roundtrip.ClientParam) (*Client, error) {
	unauthenticated, err := NewClient(addr, params...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	re, err := unauthenticated.PostForm(unauthenticated.Endpoint("storage-token"), url.Values{
		"username": []string{username},
		"password": []string{password},
	})
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
// the given storage token
func NewBearerClient(addr, token string, params ...roundtrip.ClientParam) (*Client, error) {
	params = append(params, roundtrip.BearerAuth(token))
	return NewClient(addr, params...)
}

// NewClient returns HTTP client communicating with the BLOB service
func NewClient(addr string, params ...roundtrip.ClientParam) (*Client, error) {
	c, err := roundtrip.NewClient(addr, "", params...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Client{*c}, nil
}

func (c *Client) Close() error {
	return nil
}

// WriteBLOB uploads the payload and returns the envelope of the stored BLOB,
// the size and hash are computed while the payload streams out
func (c *Client) WriteBLOB(data io.Reader, serverOnly bool) (*blob.Envelope, error) {
	hasher := sha512.New()
	counter := &countingReader{reader: io.TeeReader(data, hasher)}
	file := roundtrip.File{
		Name:     "files",
		Filename: "blob",
		Reader:   counter,
	}
	out, err := c.PostForm(c.Endpoint("file"), uploadValues(serverOnly), file)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ids := make(map[string]string)
	if err := json.Unmarshal(out.Bytes(), &ids); err != nil {
		return nil, trace.Wrap(err)
	}
	id, ok := ids[file.Filename]
	if !ok {
		return nil, trace.BadParameter("unexpected upload response: %v", ids)
	}
	return &blob.Envelope{
		ID:         id,
		SizeBytes:  counter.size,
		SHA512:     fmt.Sprintf("%x", hasher.Sum(nil)[:sha512.Size/2]),
		ServerOnly: serverOnly,
	}, nil
}

// UploadFiles stores every named payload in a single request and returns
// the mapping from payload name to BLOB ID
func (c *Client) UploadFiles(files map[string][]byte, serverOnly bool) (map[string]string, error) {
	if len(files) == 0 {
		return nil, trace.BadParameter("missing files to upload")
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	uploads := make([]roundtrip.File, 0, len(names))
	for _, name := range names {
		uploads = append(uploads, roundtrip.File{
			Name:     "files",
			Filename: name,
			Reader:   bytes.NewReader(files[name]),
		})
	}
	out, err := c.PostForm(c.Endpoint("file"), uploadValues(serverOnly), uploads...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ids := make(map[string]string)
	if err := json.Unmarshal(out.Bytes(), &ids); err != nil {
		return nil, trace.Wrap(err)
	}
	return ids, nil
}

// OpenBLOB opens the BLOB identified by ID and returns reader
func (c *Client) OpenBLOB(id string) (blob.ReadSeekCloser, error) {
	endpoint := c.Endpoint("file", id)

	// issue a HEAD request first to surface missing or forbidden
	// BLOBs as errors instead of a broken stream
	_, err := httplib.ConvertResponse(c.RoundTrip(func() (*http.Response, error) {
		//nolint:noctx
		req, err := http.NewRequest(http.MethodHead, endpoint, nil)
		if err != nil {
			return nil, err
		}
		c.SetAuthHeader(req.Header)
		return c.HTTPClient().Do(req)
	}))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return c.OpenFile(context.TODO(), endpoint, url.Values{})
}

// DeleteBLOB deletes the BLOB identified by ID
func (c *Client) DeleteBLOB(id string) error {
	_, err := c.Delete(c.Endpoint("file", id))
	if err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// PostForm is a generic method that issues http POST request to the server
func (c *Client) PostForm(
	endpoint string,
	vals url.Values,
	files ...roundtrip.File) (*roundtrip.Response, error) {

	return httplib.ConvertResponse(
		c.Client.PostForm(context.TODO(), endpoint, vals, files...))
}

// Delete issues http DELETE Request to the server
func (c *Client) Delete(u string) (*roundtrip.Response, error) {
	return httplib.ConvertResponse(c.Client.Delete(context.TODO(), u))
}

func uploadValues(serverOnly bool) url.Values {
	return url.Values{
		"is_server_only": []string{strconv.FormatBool(serverOnly)},
	}
}

type countingReader struct {
	reader io.Reader
	size   int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.size += int64(n)
	return n, err
}
