// Copyright 2025 The ripcd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controller

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/ripcd/ripcd/buffer"
	"github.com/ripcd/ripcd/common"
	"github.com/ripcd/ripcd/confengine"
	"github.com/ripcd/ripcd/logger"
	"github.com/ripcd/ripcd/server"
	"github.com/ripcd/ripcd/session"
	"github.com/ripcd/ripcd/transport/tunnel"
)

// Controller wires the shared Buffer Pool, the Tunnel Orchestrator's
// association registry, and the Server together, and carries the
// process-level lifecycle (Start/Reload/Stop) a cmd command drives.
type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg       Config
	buildInfo common.BuildInfo

	pool     *buffer.Pool
	svr      *server.Server
	registry *tunnel.Registry

	mu       sync.Mutex
	sessions map[uuid.UUID]*session.Session
}

func setupLogger(conf *confengine.Config) error {
	var opts logger.Options
	if err := conf.UnpackChild("logger", &opts); err != nil {
		return err
	}
	logger.SetOptions(opts)
	return nil
}

// New builds a Controller from conf but does not yet start accepting
// connections; call Start for that.
func New(conf *confengine.Config, buildInfo common.BuildInfo) (*Controller, error) {
	if err := setupLogger(conf); err != nil {
		return nil, err
	}

	var cfg Config
	if err := conf.UnpackChild("controller", &cfg); err != nil {
		return nil, err
	}

	pool := buffer.NewPool(common.App, cfg.poolSlabSize())
	pool.SetMax(cfg.PoolMaxBuffers)

	svr, err := server.New(conf)
	if err != nil {
		return nil, err
	}

	recordBuildInfo(buildInfo)

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		buildInfo: buildInfo,
		pool:      pool,
		svr:       svr,
		registry:  tunnel.NewRegistry(cfg.tunnelAssociationTTL()),
		sessions:  make(map[uuid.UUID]*session.Session),
	}, nil
}

// Start wires the debug HTTP routes, starts the RIPC accept loop (if a
// Server was configured), and begins tracking every accepted Session.
func (c *Controller) Start() error {
	c.setupServer()

	if c.svr == nil {
		return nil
	}

	c.svr.OnSession(c.trackSession)

	go func() {
		if err := c.svr.ListenAndServeRIPC(c.pool); err != nil {
			logger.Errorf("ripc accept loop stopped: %v", err)
		}
	}()

	go func() {
		err := c.svr.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("failed to start debug server: %v", err)
		}
	}()

	return nil
}

func (c *Controller) trackSession(s *session.Session) {
	c.mu.Lock()
	c.sessions[s.ID()] = s
	c.mu.Unlock()
	s.OnClose(func() { c.untrackSession(s.ID()) })
	sessionsAccepted.Inc()
	activeSessions.Set(float64(c.sessionCount()))
	if proto := s.Subprotocol(); proto != "" {
		logger.Infof("session %s negotiated websocket subprotocol %q", s.ID(), proto)
	}
}

func (c *Controller) untrackSession(id uuid.UUID) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
	activeSessions.Set(float64(c.sessionCount()))
}

func (c *Controller) sessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Reload re-reads the logger level and pool cap from conf; handshake
// negotiation and already-established Sessions are unaffected, matching
// the rest of this stack's reload scope (config only, no connection
// churn).
func (c *Controller) Reload(conf *confengine.Config) error {
	if err := setupLogger(conf); err != nil {
		return err
	}

	var cfg Config
	if err := conf.UnpackChild("controller", &cfg); err != nil {
		return err
	}
	c.pool.SetMax(cfg.PoolMaxBuffers)
	c.cfg = cfg
	return nil
}

// Stop closes every tracked Session, the tunnel registry, and cancels the
// controller's context.
func (c *Controller) Stop() {
	c.mu.Lock()
	sessions := make([]*session.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
	c.registry.Close()
	if c.svr != nil {
		_ = c.svr.CloseRIPC()
	}
	c.cancel()
}
