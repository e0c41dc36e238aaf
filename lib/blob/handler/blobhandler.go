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

package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/drover-io/drover/lib/blob"
	"github.com/drover-io/drover/lib/httplib"
	"github.com/drover-io/drover/lib/users"

	"github.com/gravitational/form"
	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxMemory = 32 << 20 // 32 MB
)

// Config is a config for the BLOB HTTP handler
type Config struct {
	// Users is identity and access management service
	Users users.Identity
	// Objects is the BLOB storage the handler serves
	Objects blob.Store
}

// Server is HTTP server implementing BLOB storage over HTTP
type Server struct {
	httprouter.Router
	cfg Config
}

// New returns new instance of the BLOB HTTP server
func New(cfg Config) (*Server, error) {
	if cfg.Users == nil {
		return nil, trace.BadParameter("missing parameter Users")
	}
	if cfg.Objects == nil {
		return nil, trace.BadParameter("missing parameter Objects")
	}
	h := &Server{
		cfg: cfg,
	}

	h.POST("/storage-token", h.signIn)
	h.POST("/file", h.needsAuth(h.createBLOBs))
	h.GET("/file/:id", h.needsAuth(h.getBLOB))
	h.HEAD("/file/:id", h.needsAuth(h.getBLOB))
	h.DELETE("/file/:id", h.needsAuth(h.deleteBLOB))

	h.NotFound = h.notFound

	return h, nil
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	err := trace.NotFound("%v %v is not recognized", r.Method, r.URL.String())
	log.WithError(err).Info(err.Error())
	trace.WriteError(w, trace.Unwrap(err))
}

/* signIn exchanges storage credentials for a bearer token

   POST /storage-token

   {"access_token": "<token>", "token_type": "bearer"}
*/
func (s *Server) signIn(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	httplib.SetSecurityHeaders(w.Header())
	var username, password string
	err := form.Parse(r,
		form.String("username", &username),
		form.String("password", &password),
	)
	if err != nil {
		trace.WriteError(w, trace.Unwrap(err))
		return
	}
	result, err := s.cfg.Users.SignIn(username, password)
	if err != nil {
		log.WithError(err).Info("Sign in error.")
		httplib.ReplyUnauthorized(w)
		return
	}
	roundtrip.ReplyJSON(w, http.StatusOK, result)
}

/* createBLOBs stores every uploaded file as a separate BLOB

   POST /file

   {"<filename>": "<blob id>", ...}
*/
func (s *Server) createBLOBs(w http.ResponseWriter, r *http.Request, p httprouter.Params, objects blob.Store) error {
	var serverOnlyS string
	err := form.Parse(r,
		form.String("is_server_only", &serverOnlyS),
	)
	if err != nil {
		return trace.Wrap(err)
	}

	var serverOnly bool
	if serverOnlyS != "" {
		serverOnly, err = strconv.ParseBool(serverOnlyS)
		if err != nil {
			return trace.BadParameter("is_server_only should be either 'true' or 'false', got %v", serverOnlyS)
		}
	}

	if err := r.ParseMultipartForm(defaultMaxMemory); err != nil {
		return trace.Wrap(err)
	}
	if r.MultipartForm == nil {
		return trace.BadParameter("request does not contain multipart form")
	}
	fileHeaders := r.MultipartForm.File["files"]
	if len(fileHeaders) == 0 {
		return trace.BadParameter("expected at least one file parameter")
	}

	ids := make(map[string]string, len(fileHeaders))
	for _, header := range fileHeaders {
		file, err := header.Open()
		if err != nil {
			return trace.Wrap(err)
		}
		envelope, err := objects.WriteBLOB(file, serverOnly)
		if err2 := file.Close(); err2 != nil {
			log.Errorf("failed to close %v: %v", header.Filename, err2)
		}
		if err != nil {
			return trace.Wrap(err)
		}
		ids[header.Filename] = envelope.ID
	}
	roundtrip.ReplyJSON(w, http.StatusOK, ids)
	return nil
}

/* getBLOB streams the BLOB payload

   GET /file/:id

   <binary stream>
*/
func (s *Server) getBLOB(w http.ResponseWriter, r *http.Request, p httprouter.Params, objects blob.Store) error {
	id := p.ByName("id")
	fileObject, err := objects.OpenBLOB(id)
	if err != nil {
		return trace.Wrap(err)
	}
	defer fileObject.Close()

	readSeeker, ok := fileObject.(io.ReadSeeker)
	if !ok {
		return trace.BadParameter("expected read seeker object")
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%v`, id))
	http.ServeContent(w, r, id, time.Now(), readSeeker)
	return nil
}

/* deleteBLOB removes the BLOB

   DELETE /file/:id

   {"message": "ok"}
*/
func (s *Server) deleteBLOB(w http.ResponseWriter, r *http.Request, p httprouter.Params, objects blob.Store) error {
	if err := objects.DeleteBLOB(p.ByName("id")); err != nil {
		return trace.Wrap(err)
	}
	roundtrip.ReplyJSON(w, http.StatusOK, httplib.OK())
	return nil
}

func (s *Server) needsAuth(fn authHandle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		log.WithFields(log.Fields{
			"method": r.Method,
		}).Debugf(r.URL.Path)
		httplib.SetSecurityHeaders(w.Header())

		authCreds, err := httplib.ParseAuthHeaders(r)
		if err != nil {
			log.WithError(err).Info(err.Error())
			httplib.ReplyUnauthorized(w)
			return
		}

		user, err := s.cfg.Users.AuthenticateRequest(*authCreds)
		if err != nil {
			log.WithError(err).Info("authenticate error")
			// we hide the error from the remote user to avoid giving any hints
			httplib.ReplyUnauthorized(w)
			return
		}

		acl := blob.WithRole(s.cfg.Objects, user.Role)
		if err := fn(w, r, p, acl); err != nil {
			if !trace.IsNotFound(err) && !trace.IsAlreadyExists(err) {
				log.Errorf("handler error: %v", trace.DebugReport(err))
			}
			trace.WriteError(w, trace.Unwrap(err))
		}
	}
}

type authHandle func(
	http.ResponseWriter, *http.Request, httprouter.Params, blob.Store) error
