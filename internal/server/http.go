package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zeusync/blastcore/internal/core/explosion"
	"github.com/zeusync/blastcore/internal/core/observability/log"
	"github.com/zeusync/blastcore/internal/core/voxel"
)

// ExplodeRequest is the body of POST /explode and POST /queue.
type ExplodeRequest struct {
	World   string     `json:"world"`
	Center  voxel.Vec3 `json:"center"`
	Power   float64    `json:"power"`
	Ignites bool       `json:"ignites"`
	Source  uuid.UUID  `json:"source"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type worldStats struct {
	World  string                `json:"world"`
	Engine explosion.EngineStats `json:"engine"`
}

type overview struct {
	Server Stats                            `json:"server"`
	Worlds map[string]explosion.EngineStats `json:"worlds"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/explode":
		s.handleExplode(w, r)
	case "/queue":
		s.handleQueue(w, r)
	case "/stats":
		s.handleStats(w, r)
	case "/worlds":
		s.handleWorlds(w, r)
	case "/ws":
		s.handleFeed(w, r)
	case "/healthz":
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleExplode(w http.ResponseWriter, r *http.Request) {
	req, session, ok := s.explodeRequest(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	rep, err := session.Detonate(ctx, req.Center, req.Power, req.Ignites, req.Source)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.detonations.Add(1)
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	req, session, ok := s.explodeRequest(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	reports, err := session.Enqueue(ctx, explosion.Pending{
		Center:  req.Center,
		Power:   req.Power,
		Ignites: req.Ignites,
		Source:  req.Source,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.detonations.Add(uint64(len(reports)))
	if reports == nil {
		reports = []explosion.Report{}
	}
	s.writeJSON(w, http.StatusAccepted, reports)
}

// explodeRequest checks method and auth, decodes the body and resolves the world.
// It writes the error response itself when it returns false.
func (s *Server) explodeRequest(w http.ResponseWriter, r *http.Request) (ExplodeRequest, *explosion.Session, bool) {
	var req ExplodeRequest

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return req, nil, false
	}
	if !s.authorized(r) {
		s.fail(w, ErrUnauthorized)
		return req, nil, false
	}

	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			err = errors.Wrap(ErrInvalidRequest, err.Error())
		}
		s.fail(w, err)
		return req, nil, false
	}

	session, ok := s.worlds.Get(req.World)
	if !ok {
		s.fail(w, errors.Wrapf(ErrUnknownWorld, "%q", req.World))
		return req, nil, false
	}
	return req, session, true
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	if name := r.URL.Query().Get("world"); name != "" {
		session, ok := s.worlds.Get(name)
		if !ok {
			s.fail(w, errors.Wrapf(ErrUnknownWorld, "%q", name))
			return
		}
		st, err := session.Stats(ctx)
		if err != nil {
			s.fail(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, worldStats{World: name, Engine: st})
		return
	}

	out := overview{
		Server: s.GetStats(),
		Worlds: make(map[string]explosion.EngineStats),
	}
	for _, name := range out.Server.Worlds {
		session, ok := s.worlds.Get(name)
		if !ok {
			continue
		}
		st, err := session.Stats(ctx)
		if err != nil {
			s.logger.Warn("world stats unavailable", log.String("world", name), log.Error(err))
			continue
		}
		out.Worlds[name] = st
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWorlds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.worlds.Names())
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.fail(w, ErrUnauthorized)
		return
	}

	room := r.URL.Query().Get("world")
	if room == "" {
		room = AllWorlds
	}
	if room != AllWorlds {
		if _, ok := s.worlds.Get(room); !ok {
			s.fail(w, errors.Wrapf(ErrUnknownWorld, "%q", room))
			return
		}
	}

	s.feed.Serve(w, r, room)
}

// authorized accepts a bearer token or a token query parameter.
func (s *Server) authorized(r *http.Request) bool {
	if s.config.Token == "" {
		return true
	}
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.config.Token)) == 1
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.rejected.Add(1)

	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", log.Error(err))
	} else {
		s.logger.Debug("request rejected", log.Int("status", status), log.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusOf(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUnknownWorld):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, explosion.ErrInvalidPower):
		return http.StatusBadRequest
	case errors.Is(err, explosion.ErrCenterProtected):
		return http.StatusConflict
	case errors.Is(err, explosion.ErrEngineClosed), errors.Is(err, explosion.ErrNotRun):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", log.Error(err))
	}
}
