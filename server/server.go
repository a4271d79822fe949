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

package server

import (
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/mux"

	"github.com/ripcd/ripcd/buffer"
	"github.com/ripcd/ripcd/confengine"
	"github.com/ripcd/ripcd/internal/rescue"
	"github.com/ripcd/ripcd/logger"
	"github.com/ripcd/ripcd/session"
)

type Config struct {
	Enabled bool          `config:"enabled"`
	Address string        `config:"address"`
	Pprof   bool          `config:"pprof"`
	Timeout time.Duration `config:"timeout"`

	// RIPC holds the listening address and negotiation knobs for the
	// Session-accepting endpoint, independent of the debug HTTP surface
	// above.
	RIPC struct {
		Address          string `config:"address"`
		MaxFrameSize     int    `config:"maxFrameSize"`
		CompressionBits  byte   `config:"compressionBits"`
		ZlibLevel        byte   `config:"zlibLevel"`
		ComponentVersion string `config:"componentVersion"`
	} `config:"ripc"`

	// WebSocket holds the subprotocol/deflate negotiation knobs applied
	// when a connection on the RIPC listener opens with an HTTP upgrade
	// instead of a RIPC connect-request.
	WebSocket struct {
		Subprotocols []string `config:"subprotocols"`
		AllowDeflate bool     `config:"allowDeflate"`
	} `config:"websocket"`
}

type Server struct {
	config Config
	router *mux.Router
	server *http.Server

	ripcListener net.Listener
	onSession    func(*session.Session)
}

// New 创建并返回 Server 实例
//
// 当 .Enabled 为 false 时会返回空指针 调用方需先判断
func New(conf *confengine.Config) (*Server, error) {
	var config Config
	if err := conf.UnpackChild("server", &config); err != nil {
		return nil, err
	}
	if !config.Enabled {
		return nil, nil
	}

	router := mux.NewRouter()
	s := &Server{
		config: config,
		router: router,
		server: &http.Server{
			Handler:      router,
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
		},
	}
	if config.Pprof {
		s.registerPprofRoutes()
	}
	return s, nil
}

func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	logger.Infof("server listening on %s", s.config.Address)
	return s.server.Serve(l)
}

// OnSession registers the callback invoked with each Session produced by
// ListenAndServeRIPC's accept loop. It must be called before
// ListenAndServeRIPC.
func (s *Server) OnSession(f func(*session.Session)) {
	s.onSession = f
}

// ListenAndServeRIPC runs the RIPC/WebSocket accept loop: for each
// incoming net.Conn it drives session.AcceptAuto and, on success, hands the
// Session to the registered OnSession callback on its own goroutine. A
// single bad handshake never brings down the listener; per-connection
// panics are contained the same way the rest of this codebase contains
// them at a goroutine boundary, via internal/rescue.HandleCrash.
func (s *Server) ListenAndServeRIPC(pool *buffer.Pool) error {
	l, err := net.Listen("tcp", s.config.RIPC.Address)
	if err != nil {
		return err
	}
	s.ripcListener = l
	logger.Infof("ripc server listening on %s", l.Addr())

	opts := session.AcceptOptions{
		Pool:             pool,
		MaxFrameSize:     s.config.RIPC.MaxFrameSize,
		CompressionBits:  s.config.RIPC.CompressionBits,
		ZlibLevel:        s.config.RIPC.ZlibLevel,
		ComponentVersion: s.config.RIPC.ComponentVersion,
	}
	wsOpts := session.WebSocketAcceptOptions{
		Pool:             pool,
		MaxFrameSize:     s.config.RIPC.MaxFrameSize,
		Subprotocols:     s.config.WebSocket.Subprotocols,
		AllowDeflate:     s.config.WebSocket.AllowDeflate,
		ComponentVersion: s.config.RIPC.ComponentVersion,
	}

	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		go s.acceptOne(conn, opts, wsOpts)
	}
}

func (s *Server) acceptOne(conn net.Conn, opts session.AcceptOptions, wsOpts session.WebSocketAcceptOptions) {
	defer rescue.HandleCrash()

	sess, err := session.AcceptAuto(conn, opts, wsOpts)
	if err != nil {
		logger.Warnf("handshake failed from %s: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		return
	}
	if s.onSession != nil {
		s.onSession(sess)
	}
}

// CloseRIPC stops accepting new RIPC connections; Sessions already handed
// to OnSession are unaffected.
func (s *Server) CloseRIPC() error {
	if s.ripcListener == nil {
		return nil
	}
	return s.ripcListener.Close()
}

func (s *Server) RegisterGetRoute(path string, f http.HandlerFunc) {
	s.router.Methods(http.MethodGet).Path(path).HandlerFunc(f)
}

func (s *Server) RegisterPostRoute(path string, f http.HandlerFunc) {
	s.router.Methods(http.MethodPost).Path(path).HandlerFunc(f)
}

func (s *Server) registerPprofRoutes() {
	s.RegisterGetRoute("/debug/pprof/cmdline", pprof.Cmdline)
	s.RegisterGetRoute("/debug/pprof/profile", pprof.Profile)
	s.RegisterGetRoute("/debug/pprof/symbol", pprof.Symbol)
	s.RegisterGetRoute("/debug/pprof/trace", pprof.Trace)
	s.RegisterGetRoute("/debug/pprof/{other}", pprof.Index)
}
