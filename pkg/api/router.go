package api

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ericogr/bobshield/pkg/bob"
)

// Controller is the part of the beam driver exposed over HTTP.
type Controller interface {
	Sample() (bob.Sample, error)
	Bounds() bob.Bounds
	Calibrate(ctx context.Context) error
	WriteActuation(angle float64) error
	ReadReference() (float64, error)
}

type Server struct {
	ctl  Controller
	mode string
	log  logrus.FieldLogger
}

// NewRouter serves ctl. In manual mode with a reference input the loop owns
// the beam angle and actuation requests are refused.
func NewRouter(ctl Controller, gatherer prometheus.Gatherer, mode string) *mux.Router {
	s := &Server{ctl: ctl, mode: mode, log: logrus.WithField("component", "api")}
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods("GET")
	r.HandleFunc("/position", s.position).Methods("GET")
	r.HandleFunc("/bounds", s.bounds).Methods("GET")
	r.HandleFunc("/calibrate", s.calibrate).Methods("POST")
	r.HandleFunc("/actuation", s.actuation).Methods("PUT")
	r.HandleFunc("/reference", s.reference).Methods("GET")
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	return r
}

// Handler wraps h with panic recovery and combined access logging to w.
func Handler(h http.Handler, w io.Writer) http.Handler {
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(handlers.CombinedLoggingHandler(w, h))
}
