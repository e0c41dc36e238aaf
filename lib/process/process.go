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

// Package process assembles the coordination server: the operation
// interpreter, the node inventory, the resource registry, blob storage and
// the HTTPS endpoint serving both the coordination and the storage APIs
package process

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/drover-io/drover/lib/blob"
	blobfs "github.com/drover-io/drover/lib/blob/fs"
	blobhandler "github.com/drover-io/drover/lib/blob/handler"
	"github.com/drover-io/drover/lib/checkpoint"
	"github.com/drover-io/drover/lib/command"
	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/httplib"
	"github.com/drover-io/drover/lib/operation"
	"github.com/drover-io/drover/lib/ops"
	"github.com/drover-io/drover/lib/processconfig"
	"github.com/drover-io/drover/lib/registry"
	"github.com/drover-io/drover/lib/topology"
	"github.com/drover-io/drover/lib/transport/broker"
	"github.com/drover-io/drover/lib/transport/httpapi"
	"github.com/drover-io/drover/lib/users"
	"github.com/drover-io/drover/lib/users/usersservice"
	"github.com/drover-io/drover/lib/utils"
	"github.com/drover-io/drover/lib/watcher"
	"github.com/drover-io/drover/lib/wire"

	"github.com/dustin/go-humanize"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
)

// Process is the drover server: it interprets the operation program against
// the fleet and serves the APIs workers and observers talk to
type Process struct {
	sync.Mutex
	logrus.FieldLogger
	cfg processconfig.Config

	identity    users.Identity
	objects     blob.Store
	nodes       *topology.Topology
	resources   *registry.Registry
	watchers    *watcher.Pool
	codec       *wire.Registry
	checkpoints *checkpoint.Manager
	metrics     *watcher.FileSink
	manager     *ops.Manager
	liveness    *topology.LivenessObserver
	handlers    Handlers

	context context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	listener net.Listener
	server   *http.Server
	endpoint *broker.Endpoint
}

// Handlers combines the web handlers of the process
type Handlers struct {
	// API is the coordination API handler
	API *httpapi.Server
	// BLOB is the blob storage handler
	BLOB *blobhandler.Server
}

// New returns a process that will interpret the program against the
// configured fleet. Call Start to bind the endpoints and begin serving.
func New(ctx context.Context, cfg processconfig.Config, program *ops.Program) (*Process, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if program == nil {
		return nil, trace.BadParameter("missing parameter program")
	}

	p := &Process{
		FieldLogger: logrus.WithField(trace.Component, constants.ComponentProcess),
		cfg:         cfg,
	}
	p.context, p.cancel = context.WithCancel(ctx)

	identity, err := usersservice.New(usersservice.Config{
		Users:      cfg.Users,
		TokenTTL:   cfg.TokenTTL.Duration(),
		Simulation: cfg.Simulation,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	p.identity = identity

	objects, err := blobfs.New(cfg.BlobDir)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	p.objects = objects

	p.resources = registry.NewRegistry()

	watchers, err := watcher.New(watcher.Config{Owner: p})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	p.watchers = watchers

	nodes, err := topology.New(topology.Config{
		Nodes:      cfg.Topology,
		MaxClients: cfg.MaxClients,
		Watchers:   watchers,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	p.nodes = nodes

	p.codec = wire.NewRegistry()
	if err := command.RegisterCommands(p.codec); err != nil {
		return nil, trace.Wrap(err)
	}

	checkpoints, err := checkpoint.New(checkpoint.Config{Dir: cfg.CheckpointDir})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	p.checkpoints = checkpoints

	if err := p.initResources(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := p.initWatchers(); err != nil {
		return nil, trace.Wrap(err)
	}

	manager, err := ops.New(ops.Config{
		Program: program,
		Env: &operation.Env{
			Topology:    nodes,
			Resources:   p.resources,
			Watchers:    watchers,
			Codec:       p.codec,
			FieldLogger: p.FieldLogger,
		},
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	p.manager = manager

	api, err := httpapi.New(httpapi.Config{
		Coordinator: manager,
		Users:       identity,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	blobs, err := blobhandler.New(blobhandler.Config{
		Users:   identity,
		Objects: objects,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	p.handlers = Handlers{API: api, BLOB: blobs}

	liveness, err := topology.NewLivenessObserver(topology.LivenessConfig{
		Topology: nodes,
		Interval: cfg.LivenessInterval.Duration(),
		Timeout:  cfg.NodeTimeout.Duration(),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	p.liveness = liveness

	return p, nil
}

// initResources seeds the well-known registry entries commands reach for
func (p *Process) initResources() error {
	seed := map[string]interface{}{
		constants.RegistryWatcherKey:           p.watchers,
		constants.RegistryStorageKey:           p.objects,
		constants.RegistryCheckpointsKey:       p.checkpoints,
		constants.RegistryClientCheckpointsKey: checkpoint.NewAccumulator(),
	}
	for key, value := range seed {
		if err := p.resources.Set(key, value); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// initWatchers registers the standing watchers: the metric sink, the
// aggregator and, when tracking is configured, the new-best detector with
// the checkpoint saver behind it
func (p *Process) initWatchers() error {
	sink, err := watcher.NewFileSink(p.cfg.MetricsFile)
	if err != nil {
		return trace.Wrap(err)
	}
	p.metrics = sink

	collector, err := watcher.NewMetricCollector(sink)
	if err != nil {
		return trace.Wrap(err)
	}
	p.watchers.Add(collector)

	aggregator, err := watcher.NewMetricAggregator(watcher.AggregatorConfig{
		Reduction: p.cfg.Track.Reduction,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	p.watchers.Add(aggregator)

	if !p.cfg.Track.Enabled() {
		return nil
	}
	detector, err := watcher.NewNewBestDetector(watcher.NewBestConfig{
		Criterion:      p.cfg.Track.Criterion,
		Split:          p.cfg.Track.Split,
		HigherIsBetter: p.cfg.Track.HigherIsBetter,
		ModelKey:       p.cfg.Track.ModelKey,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	p.watchers.Add(detector)

	saver, err := checkpoint.NewSaver(checkpoint.SaverConfig{
		Resources: p.resources,
		Manager:   p.checkpoints,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	p.watchers.Add(saver)
	return nil
}

// Start binds the HTTPS listener, connects the broker endpoint when one is
// configured and announces the run to the watchers
func (p *Process) Start() error {
	p.Lock()
	defer p.Unlock()
	if p.listener != nil {
		return trace.AlreadyExists("process already started")
	}

	tlsConfig, err := p.getTLSConfig()
	if err != nil {
		return trace.Wrap(err)
	}
	listener, err := tls.Listen("tcp", p.cfg.ListenAddr, tlsConfig)
	if err != nil {
		return trace.ConvertSystemError(err)
	}

	if p.cfg.BrokerURL != "" {
		endpoint, err := broker.NewEndpoint(broker.EndpointConfig{
			URL:         p.cfg.BrokerURL,
			Coordinator: p.manager,
			Nodes:       p.clientNodes(),
		})
		if err != nil {
			listener.Close()
			return trace.Wrap(err)
		}
		p.endpoint = endpoint
	}

	p.listener = listener
	p.server = &http.Server{Handler: p.initMux()}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := p.server.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			p.WithError(err).Error("HTTPS server exited.")
		}
	}()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.liveness.Serve(p.context)
	}()

	p.watchers.NotifyAll(watcher.Initialization{
		Run: p.cfg.Run,
		At:  time.Now().UTC(),
	}, constants.ComponentProcess)
	p.Infof("Process started for run %q on %v.", p.cfg.Run, listener.Addr())
	return nil
}

// Shutdown stops serving, halts the interpreter and releases every held
// resource. Blobs that were uploaded but never consumed are reported.
func (p *Process) Shutdown(ctx context.Context) error {
	p.Info("Shutting down.")
	p.Lock()
	server := p.server
	endpoint := p.endpoint
	p.Unlock()

	var errors []error
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			errors = append(errors, err)
		}
	}
	if endpoint != nil {
		if err := endpoint.Close(); err != nil {
			errors = append(errors, err)
		}
	}
	if err := p.manager.Close(); err != nil {
		errors = append(errors, err)
	}
	p.cancel()
	p.wg.Wait()

	p.reportLeakedBLOBs()
	if err := p.metrics.Close(); err != nil {
		errors = append(errors, err)
	}
	if err := p.objects.Close(); err != nil {
		errors = append(errors, err)
	}
	return trace.NewAggregate(errors...)
}

// Done is closed when the operation program ran to completion or halted
// on a failure
func (p *Process) Done() <-chan struct{} {
	return p.manager.Done()
}

// Err returns the program verdict once Done is closed
func (p *Process) Err() error {
	return p.manager.Err()
}

// Wait blocks until the program finished or the context expired and
// returns the program verdict
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.manager.Done():
		return trace.Wrap(p.manager.Err())
	case <-ctx.Done():
		return trace.Wrap(ctx.Err())
	}
}

// Resources returns the server resource registry. Satisfies watcher.Owner
func (p *Process) Resources() *registry.Registry {
	return p.resources
}

// Config returns the process configuration
func (p *Process) Config() *processconfig.Config {
	return &p.cfg
}

// Manager returns the operation interpreter
func (p *Process) Manager() *ops.Manager {
	return p.manager
}

// Topology returns the node inventory of the run
func (p *Process) Topology() *topology.Topology {
	return p.nodes
}

// Watchers returns the notification pool
func (p *Process) Watchers() *watcher.Pool {
	return p.watchers
}

// Identity returns the user identity service
func (p *Process) Identity() users.Identity {
	return p.identity
}

// Handlers returns the web handlers of the process
func (p *Process) Handlers() *Handlers {
	return &p.handlers
}

// Addr returns the address the listener is bound to, nil before Start
func (p *Process) Addr() net.Addr {
	p.Lock()
	defer p.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

func (p *Process) initMux() http.Handler {
	p.Info("Initializing mux.")
	mux := &httprouter.Router{}
	for _, method := range httplib.Methods {
		// coordination API
		mux.Handler(method, "/token", p.handlers.API)
		mux.Handler(method, "/serverrequest", p.handlers.API)
		mux.Handler(method, "/status", p.handlers.API)
		// blob storage API
		mux.Handler(method, "/storage-token", p.handlers.BLOB)
		mux.Handler(method, "/file", p.handlers.BLOB)
		mux.Handler(method, "/file/:id", p.handlers.BLOB)
	}
	mux.NotFound = p.notFound
	return mux
}

func (p *Process) notFound(w http.ResponseWriter, r *http.Request) {
	err := trace.NotFound("%v %v is not recognized", r.Method, r.URL.String())
	p.WithError(err).Info(err.Error())
	trace.WriteError(w, trace.Unwrap(err))
}

// getTLSConfig loads the configured server credentials, falling back to a
// self-signed certificate when none are configured
func (p *Process) getTLSConfig() (*tls.Config, error) {
	if p.cfg.TLSCertFile != "" {
		cert, err := tls.LoadX509KeyPair(p.cfg.TLSCertFile, p.cfg.TLSKeyFile)
		if err != nil {
			return nil, trace.ConvertSystemError(err)
		}
		return newTLSConfig(cert), nil
	}
	p.Warn("No TLS credentials configured, generating a self-signed certificate.")
	hostnames := []string{"localhost"}
	if host, _, err := net.SplitHostPort(p.cfg.ListenAddr); err == nil && host != "" {
		hostnames = append(hostnames, host)
	}
	creds, err := utils.GenerateSelfSignedCert(hostnames)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cert, err := tls.X509KeyPair(creds.Cert, creds.PrivateKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return newTLSConfig(cert), nil
}

func newTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
}

// clientNodes returns the names of the client-role nodes, the broker
// endpoint holds a queue pair per worker
func (p *Process) clientNodes() (names []string) {
	for _, node := range p.cfg.Topology {
		if node.Role == constants.RoleClient {
			names = append(names, node.Name)
		}
	}
	return names
}

// reportLeakedBLOBs lists the blobs still in the store on shutdown. A
// clean run consumes everything it uploads.
func (p *Process) reportLeakedBLOBs() {
	ids, err := p.objects.GetBLOBs()
	if err != nil {
		p.WithError(err).Warn("Failed to list blobs.")
		return
	}
	if len(ids) == 0 {
		return
	}
	p.Warnf("%v blobs were uploaded but never consumed.", len(ids))
	for _, id := range ids {
		logger := p.WithField("blob", id)
		envelope, err := p.objects.GetBLOBEnvelope(id)
		if err != nil {
			logger.WithError(err).Warn("Leaked blob.")
			continue
		}
		logger.WithField("size", humanize.Bytes(uint64(envelope.SizeBytes))).Warn("Leaked blob.")
	}
}
