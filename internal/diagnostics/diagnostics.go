// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package diagnostics serves the operational HTTP surface that sits next to
// the RESP listener: liveness and Prometheus metrics, plus an optional
// github.com/google/gops debug agent. None of it speaks the wire protocol,
// so it lives on its own router and its own listener rather than sharing the
// connection-handling code in internal/session.
package diagnostics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/ClusterCockpit/cc-kvstore/internal/server"
	"github.com/ClusterCockpit/cc-kvstore/pkg/log"
	"github.com/google/gops/agent"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /healthz and /metrics on its own address.
type Server struct {
	httpServer *http.Server
}

// New builds the diagnostics router: /healthz reports liveness unconditionally
// (the process answering at all is the signal; it does not probe the store),
// and /metrics exposes srv.Collectors() on a private registry so the default
// global registerer's process/go collectors don't leak in mixed with ours.
func New(srv *server.Server, addr string) *Server {
	reg := prometheus.NewRegistry()
	for _, c := range srv.Collectors() {
		reg.MustRegister(c)
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  20 * time.Second,
			WriteTimeout: 20 * time.Second,
		},
	}
}

// Serve binds listener and blocks until the server is shut down, matching
// the bind-before-dropping-privileges ordering the RESP listener follows in
// cmd/cc-kvstore/main.go: the caller is expected to have already listened on
// a privileged port, if any, before calling this.
func (s *Server) Serve(listener net.Listener) error {
	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// StartGopsAgent starts the github.com/google/gops debug agent, letting an
// operator attach with `gops` to inspect goroutines, memory stats, and
// pprof profiles of a running process without it exposing anything on the
// network by default (gops listens on localhost only).
func StartGopsAgent() error {
	if err := agent.Listen(agent.Options{}); err != nil {
		return err
	}
	log.Debugf("diagnostics: gops agent listening")
	return nil
}
