package api

import (
	"encoding/json"
	"math"
	"net/http"

	"github.com/pkg/errors"

	"github.com/ericogr/bobshield/pkg/bob"
	"github.com/ericogr/bobshield/pkg/config"
)

type actuationRequest struct {
	Angle *float64 `json:"angle"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) position(w http.ResponseWriter, r *http.Request) {
	sample, err := s.ctl.Sample()
	if err != nil {
		s.fail(w, http.StatusServiceUnavailable, err)
		return
	}
	if ref, err := s.ctl.ReadReference(); err == nil {
		sample.Reference = &ref
	} else if !errors.Is(err, bob.ErrNoReference) {
		s.log.WithError(err).Warn("reference read failed")
	}
	writeJSON(w, http.StatusOK, sample)
}

func (s *Server) bounds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Bounds())
}

func (s *Server) calibrate(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Calibrate(r.Context()); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Bounds())
}

func (s *Server) actuation(w http.ResponseWriter, r *http.Request) {
	var req actuationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, errors.Wrap(err, "decode body"))
		return
	}
	if req.Angle == nil || math.IsNaN(*req.Angle) {
		s.fail(w, http.StatusBadRequest, errors.New("angle is required"))
		return
	}
	if s.referenceOwnsAngle() {
		s.fail(w, http.StatusConflict, errors.Errorf("beam angle follows the reference input in %s mode", s.mode))
		return
	}
	if err := s.ctl.WriteActuation(*req.Angle); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	_, clamped := bob.Command(*req.Angle, 0)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"angle":   *req.Angle,
		"clamped": clamped,
		"mode":    s.mode,
	})
}

func (s *Server) referenceOwnsAngle() bool {
	if s.mode != config.ModeManual {
		return false
	}
	_, err := s.ctl.ReadReference()
	return !errors.Is(err, bob.ErrNoReference)
}

func (s *Server) reference(w http.ResponseWriter, r *http.Request) {
	ref, err := s.ctl.ReadReference()
	if errors.Is(err, bob.ErrNoReference) {
		s.fail(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"reference_percent": ref})
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	s.log.WithError(err).WithField("status", status).Warn("request failed")
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
