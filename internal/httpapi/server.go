// Package httpapi serves the dashboard endpoints: health, fleet and robot
// listings, and the fleet websocket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"campusRobotDelivery/internal/logger"
	"campusRobotDelivery/internal/telemetry"
	"campusRobotDelivery/models"
	"campusRobotDelivery/repository"
)

const (
	readTimeout       = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Store is what the read endpoints need from the Entity Store.
type Store interface {
	ListRobots(ctx context.Context) ([]models.Robot, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
}

type Deps struct {
	Store  Store
	Fleet  telemetry.SnapshotSource
	Hub    http.Handler
	Logger logrus.FieldLogger
}

type Server struct {
	Router *mux.Router
	server *http.Server
	log    logrus.FieldLogger
}

// SetupRoutes builds the router. A nil Hub leaves /ws/fleet unrouted.
func SetupRoutes(d Deps) *Server {
	log := d.Logger
	if log == nil {
		log = logger.GetAppLogger()
	}
	s := &Server{Router: mux.NewRouter(), log: log.WithField("component", "http")}
	router := s.Router

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"alive": true}`)
	}).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/fleet", func(w http.ResponseWriter, r *http.Request) {
		if d.Fleet == nil {
			s.writeError(w, http.StatusServiceUnavailable, "fleet simulation disabled")
			return
		}
		s.writeJSON(w, http.StatusOK, d.Fleet.Snapshot())
	}).Methods("GET")
	api.HandleFunc("/robots", func(w http.ResponseWriter, r *http.Request) {
		robots, err := d.Store.ListRobots(r.Context())
		if err != nil {
			s.log.WithError(err).Error("list robots failed")
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if robots == nil {
			robots = []models.Robot{}
		}
		s.writeJSON(w, http.StatusOK, robots)
	}).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		order, err := d.Store.GetOrder(r.Context(), id)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "order not found")
		case err != nil:
			s.log.WithError(err).WithField("order_id", id).Error("get order failed")
			s.writeError(w, http.StatusInternalServerError, "internal error")
		default:
			s.writeJSON(w, http.StatusOK, order)
		}
	}).Methods("GET")

	if d.Hub != nil {
		router.Handle("/ws/fleet", d.Hub).Methods("GET")
	}
	return s
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("encode response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Run listens on addr and blocks until the server stops.
// http.ErrServerClosed is returned after Shutdown.
func (s *Server) Run(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}
	s.log.WithField("addr", addr).Info("http server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
