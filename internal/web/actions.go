package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sweeney/droplet/internal/gpio"
	"github.com/sweeney/droplet/internal/panel"
	"github.com/sweeney/droplet/internal/solenoid"
)

// ActionJSON is the response body of the panel endpoints.
type ActionJSON struct {
	Panel panel.View `json:"panel"`
	Error string     `json:"error,omitempty"`
}

type primingRequest struct {
	On *bool `json:"on"`
}

func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	writeAction(w, http.StatusOK, s.controls.View(), nil)
}

func (s *Server) handlePriming(w http.ResponseWriter, r *http.Request) {
	on, err := parsePriming(w, r)
	if err != nil {
		writeAction(w, http.StatusBadRequest, s.controls.View(), err)
		return
	}

	v, err := s.controls.SetPriming(on)
	if err != nil {
		s.logger.Warn("priming request failed", "on", on, "error", err)
	}
	writeAction(w, statusFor(err), v, err)
}

func (s *Server) handleDroplet(w http.ResponseWriter, r *http.Request) {
	v, err := s.controls.Droplet()
	if err != nil {
		s.logger.Warn("droplet request failed", "error", err)
	}
	writeAction(w, statusFor(err), v, err)
}

// parsePriming accepts {"on":true} or a form field on=true.
func parsePriming(w http.ResponseWriter, r *http.Request) (bool, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req primingRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
			return false, fmt.Errorf("decode priming request: %w", err)
		}
		if req.On == nil {
			return false, errors.New(`missing field "on"`)
		}
		return *req.On, nil
	}

	if err := r.ParseForm(); err != nil {
		return false, fmt.Errorf("parse priming form: %w", err)
	}
	raw := r.PostForm.Get("on")
	if raw == "" {
		// An unchecked HTML checkbox is not submitted.
		return false, nil
	}
	on, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid value for on: %q", raw)
	}
	return on, nil
}

func statusFor(err error) int {
	var we *gpio.WriteError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, panel.ErrBusy), errors.Is(err, panel.ErrDropletDisabled):
		return http.StatusConflict
	case errors.As(err, &we):
		return http.StatusBadGateway
	case errors.Is(err, solenoid.ErrReleased):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeAction(w http.ResponseWriter, code int, v panel.View, err error) {
	body := ActionJSON{Panel: v}
	if err != nil {
		body.Error = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
