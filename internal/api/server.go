// Package api serves the PWM accessor over HTTP: list the channels, apply a
// batch of channel writes, and switch every channel off. It also exposes the
// joint angles, the command journal and build metadata for dashboards.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/tagurobo/servod/internal/actuator"
	"github.com/tagurobo/servod/internal/command"
	"github.com/tagurobo/servod/internal/httputil"
	"github.com/tagurobo/servod/internal/journal"
	"github.com/tagurobo/servod/internal/version"
)

// maxBodyBytes bounds a POST /servos body.
const maxBodyBytes = 64 << 10

// JournalReader is the part of the journal the API reads. A nil reader
// disables GET /journal.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

type Server struct {
	bank    *actuator.Bank
	journal JournalReader
}

func NewServer(bank *actuator.Bank, j JournalReader) *Server {
	return &Server{bank: bank, journal: j}
}

// ServeMux returns the bare routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/servos", s.handleServos)
	mux.HandleFunc("/stop_all", s.handleStopAll)
	mux.HandleFunc("/joints", s.handleJoints)
	mux.HandleFunc("/journal", s.handleJournal)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "not found")
	})
	return mux
}

// Handler returns the routes wrapped in request logging and CORS.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(CORSMiddleware(s.ServeMux()))
}

func (s *Server) handleServos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.bank.List())
	case http.MethodPost:
		s.applyBatch(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) applyBatch(w http.ResponseWriter, r *http.Request) {
	var updates []actuator.ChannelUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&updates); err != nil {
		log.Printf("POST /servos: %v", err)
		httputil.WriteStatus(w, http.StatusBadRequest, httputil.StatusParseFailed)
		return
	}
	if err := s.bank.ApplyBatch(updates); err != nil {
		if errors.Is(err, actuator.ErrOutOfRange) || errors.Is(err, actuator.ErrMissingField) || errors.Is(err, actuator.ErrTickRange) {
			log.Printf("POST /servos rejected: %v", err)
			httputil.WriteStatus(w, http.StatusBadRequest, httputil.StatusValidationError)
			return
		}
		log.Printf("POST /servos driver error: %v", err)
		httputil.InternalServerError(w, "failed to apply channels")
		return
	}
	httputil.WriteStatus(w, http.StatusOK, httputil.StatusOK)
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.bank.StopAll(); err != nil {
		log.Printf("POST /stop_all: %v", err)
		httputil.InternalServerError(w, "failed to stop all channels")
		return
	}
	httputil.WriteStatus(w, http.StatusOK, httputil.StatusOK)
}

// jointsResponse lists the joint angles in channel order.
type jointsResponse struct {
	Angles []float64 `json:"angles"`
}

func (s *Server) handleJoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	angles, err := s.bank.Angles(command.NumJoints)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, jointsResponse{Angles: angles})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.journal == nil {
		httputil.NotFound(w, "journal disabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.WriteJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		log.Printf("GET /journal: %v", err)
		httputil.InternalServerError(w, "failed to read journal")
		return
	}
	httputil.WriteJSONOK(w, entries)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Current())
}
