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

// Package httpapi implements the HTTP carrier of the coordination API:
// the server handler exposing the token, server request and status
// endpoints, and the client workers poll through.
package httpapi

import (
	"encoding/json"
	"io/ioutil"
	"net/http"

	"github.com/drover-io/drover/lib/command"
	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/httplib"
	"github.com/drover-io/drover/lib/transport"
	"github.com/drover-io/drover/lib/users"
	"github.com/drover-io/drover/lib/wire"

	"github.com/gravitational/form"
	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

// Config is the HTTP handler configuration
type Config struct {
	// Coordinator answers worker requests
	Coordinator transport.Coordinator
	// Users is the identity service authenticating every request
	Users users.Identity
}

// Server is the HTTP server side of the coordination API
type Server struct {
	httprouter.Router
	cfg Config
}

// New returns a handler serving the coordination API
func New(cfg Config) (*Server, error) {
	if cfg.Coordinator == nil {
		return nil, trace.BadParameter("missing parameter Coordinator")
	}
	if cfg.Users == nil {
		return nil, trace.BadParameter("missing parameter Users")
	}
	h := &Server{
		cfg: cfg,
	}

	h.POST("/token", h.signIn)
	h.POST("/serverrequest", h.needsAuth(h.serverRequest))
	h.POST("/status", h.needsAuth(h.statusUpdate))

	h.NotFound = h.notFound

	return h, nil
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	err := trace.NotFound("%v %v is not recognized", r.Method, r.URL.String())
	log.WithError(err).Info(err.Error())
	trace.WriteError(w, trace.Unwrap(err))
}

/* signIn exchanges user credentials for a bearer token

   POST /token

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
		log.WithError(err).WithField(constants.FieldUser, username).Info("Sign in error.")
		httplib.ReplyUnauthorized(w)
		return
	}
	roundtrip.ReplyJSON(w, http.StatusOK, result)
}

/* serverRequest answers a typed worker request

   POST /serverrequest
   {"datatype": "PullCommand", "data": {}}

   {"data": {...}, "files": {...}, "response_type": "..."}
*/
func (s *Server) serverRequest(w http.ResponseWriter, r *http.Request, p httprouter.Params, user *users.User) error {
	payload, err := ioutil.ReadAll(r.Body)
	if err != nil {
		return trace.Wrap(err)
	}
	var req wire.Value
	if err := json.Unmarshal(payload, &req); err != nil || req.Datatype == "" {
		httplib.ReplyUnprocessable(w, trace.BadParameter("malformed server request"))
		return nil
	}
	response, err := s.cfg.Coordinator.HandleServerRequest(r.Context(), req, user.Name)
	if err != nil {
		return trace.Wrap(err)
	}
	if response == nil {
		response = &command.Response{}
	}
	roundtrip.ReplyJSON(w, http.StatusOK, response)
	return nil
}

/* statusUpdate absorbs a worker execution report

   POST /status
   {"command_uuid": "...", "status_code": "...", "datatype": "...", "response": {...}}

   {"message": "OK"}
*/
func (s *Server) statusUpdate(w http.ResponseWriter, r *http.Request, p httprouter.Params, user *users.User) error {
	payload, err := ioutil.ReadAll(r.Body)
	if err != nil {
		return trace.Wrap(err)
	}
	var update command.StatusUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		httplib.ReplyUnprocessable(w, trace.BadParameter("malformed status update"))
		return nil
	}
	if update.Node == "" {
		update.Node = user.Name
	}
	if err := update.Check(); err != nil {
		httplib.ReplyUnprocessable(w, err)
		return nil
	}
	if err := s.cfg.Coordinator.HandleStatusUpdate(r.Context(), update); err != nil {
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

		if err := fn(w, r, p, user); err != nil {
			if !trace.IsNotFound(err) && !trace.IsAlreadyExists(err) {
				log.Errorf("handler error: %v", trace.DebugReport(err))
			}
			trace.WriteError(w, trace.Unwrap(err))
		}
	}
}

type authHandle func(
	http.ResponseWriter, *http.Request, httprouter.Params, *users.User) error
