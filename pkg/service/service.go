// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package service provides the machine-readable status/control HTTP
// surface named in §6 as a stand-in for NIDAS's original XML-RPC status
// endpoints (no GUI, per Non-goals, but a status endpoint is still
// in-scope). Routing follows the teacher's server.go use of
// github.com/gorilla/mux; metrics are exposed via
// github.com/prometheus/client_golang's promhttp handler.
package service

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/log"
)

// StatusProvider reports a snapshot of pipeline-wide status, implemented
// by cmd/nidas-pipeline's top-level wiring.
type StatusProvider interface {
	Status() any
}

// Config configures the Service.
type Config struct {
	// Addr is the listen address, e.g. ":9631".
	Addr string
	// Status is queried for the /status endpoint's JSON body.
	Status StatusProvider
}

// Service is the status/control HTTP surface: GET /status (JSON status
// snapshot), GET /metrics (Prometheus exposition), GET /healthz (liveness).
type Service struct {
	cfg    Config
	server *http.Server
}

// New builds a Service. Call Run to start serving.
func New(cfg Config) *Service {
	r := mux.NewRouter()
	s := &Service{cfg: cfg}

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Service) handleHealthz(rw http.ResponseWriter, _ *http.Request) {
	rw.WriteHeader(http.StatusOK)
}

func (s *Service) handleStatus(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	if s.cfg.Status == nil {
		json.NewEncoder(rw).Encode(map[string]string{"status": "running"})
		return
	}
	if err := json.NewEncoder(rw).Encode(s.cfg.Status.Status()); err != nil {
		log.Errorf("[SERVICE] encoding status response: %v", err)
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts the server down gracefully.
func (s *Service) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
