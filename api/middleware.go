package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"ballotbox/models"
)

const requestIDHeader = "X-Request-Id"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

type principalKey struct{}

func principalFrom(ctx context.Context) models.Principal {
	p, _ := ctx.Value(principalKey{}).(models.Principal)
	return p
}

func (s *Server) requireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="ballotbox"`)
			s.writeError(w, models.ErrUnauthorized)
			return
		}
		p, err := s.election.Authenticate(r.Context(), username, password, role)
		if err != nil {
			s.writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	}
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireRole(models.LoginAdmin, next)
}

// requireVoterOrAdmin accepts voter credentials first, then administrator
// credentials. Usernames are unique across both stores.
func (s *Server) requireVoterOrAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="ballotbox"`)
			s.writeError(w, models.ErrUnauthorized)
			return
		}
		p, err := s.election.Authenticate(r.Context(), username, password, models.LoginVoter)
		if err != nil {
			p, err = s.election.Authenticate(r.Context(), username, password, models.LoginAdmin)
		}
		if err != nil {
			s.writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	}
}

// requireVoter accepts any registered voter, candidates included.
func (s *Server) requireVoter(next http.HandlerFunc) http.HandlerFunc {
	return s.requireRole(models.LoginVoter, next)
}
