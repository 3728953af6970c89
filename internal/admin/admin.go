// Package admin serves local diagnostics over HTTP: metrics, status, liveness.
package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/alive/v2"
	"github.com/temoto/powermeter/internal/health"
	"github.com/temoto/powermeter/internal/reading"
	"github.com/temoto/powermeter/log2"
)

type Status struct {
	Version       string             `json:"version"`
	Started       time.Time          `json:"started"`
	Sensors       []health.Snapshot  `json:"sensors"`
	QueueLength   int                `json:"queue_length"`
	QueueCapacity int                `json:"queue_capacity"`
	Connected     bool               `json:"connected"`
	BrokerAddr    string             `json:"broker_addr"`
	Restarting    bool               `json:"restarting"`
	RestartReason string             `json:"restart_reason,omitempty"`
	Boot          reading.BootReport `json:"boot"`
}

type StatusFunc func() Status

type Server struct {
	Log *log2.Log

	status StatusFunc
	router *mux.Router
	srv    *http.Server
	addr   string
}

func New(log *log2.Log, listen string, reg *prometheus.Registry, status StatusFunc) *Server {
	self := &Server{
		Log:    log,
		status: status,
		router: mux.NewRouter(),
	}
	self.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	self.router.HandleFunc("/status", self.handleStatus).Methods("GET")
	self.router.HandleFunc("/healthz", self.handleHealthz).Methods("GET")
	self.srv = &http.Server{
		Addr:              listen,
		Handler:           handlers.LoggingHandler(logWriter{log}, self.router),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return self
}

func (self *Server) Handler() http.Handler { return self.srv.Handler }

// Addr is actual listen address after Serve.
func (self *Server) Addr() string { return self.addr }

// Serve runs until Shutdown, under a.
func (self *Server) Serve(a *alive.Alive) error {
	ln, err := net.Listen("tcp", self.srv.Addr)
	if err != nil {
		return errors.Annotatef(err, "admin listen=%s", self.srv.Addr)
	}
	self.addr = ln.Addr().String()
	self.Log.Infof("admin listen=%s", self.addr)
	if !a.Add(1) {
		ln.Close()
		return nil
	}
	go func() {
		defer a.Done()
		if err := self.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			self.Log.Error(errors.Annotate(err, "admin serve"))
		}
	}()
	return nil
}

func (self *Server) Shutdown(ctx context.Context) error {
	return errors.Trace(self.srv.Shutdown(ctx))
}

func (self *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(self.status()); err != nil {
		self.Log.Error(errors.Annotate(err, "admin status"))
	}
}

// healthz fails once restart is underway or every channel is dead.
func (self *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := self.status()
	problem := ""
	switch {
	case st.Restarting:
		problem = "restarting: " + st.RestartReason
	case !st.Connected:
		problem = "broker not connected"
	case allDead(st.Sensors):
		problem = "all sensors dead"
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if problem != "" {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(problem + "\n"))
		return
	}
	_, _ = w.Write([]byte("ok\n"))
}

func allDead(ss []health.Snapshot) bool {
	if len(ss) == 0 {
		return false
	}
	for _, s := range ss {
		if s.State != health.StateDead {
			return false
		}
	}
	return true
}

type logWriter struct{ log *log2.Log }

func (w logWriter) Write(b []byte) (int, error) {
	w.log.Debug(strings.TrimRight(string(b), "\n"))
	return len(b), nil
}
