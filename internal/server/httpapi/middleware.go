package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/dmitrijs2005/synk/internal/server/auth"
	"github.com/go-chi/chi/v5/middleware"
)

type ownerKey struct{}

// requestInfo is filled in while the request travels down the chain and read
// back by logRequests.
type requestInfo struct {
	owner string
}

type infoKey struct{}

// OwnerFromContext returns the authenticated user of a request, or "".
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

func withOwner(ctx context.Context, owner string) context.Context {
	if info, ok := ctx.Value(infoKey{}).(*requestInfo); ok {
		info.owner = owner
	}
	return context.WithValue(ctx, ownerKey{}, owner)
}

// logRequests writes one line per request once it has been served.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), infoKey{}, info)))

		s.logger.Info(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"owner", info.owner,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// requireDigest answers requests without valid credentials with a 401 and a
// fresh challenge. An expired nonce is flagged stale so clients can retry
// without asking the user again.
func (s *Server) requireDigest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			s.challenge(w, r, false)
			return
		}

		owner, err := s.auth.Authenticate(r.Context(), r.Method, r.URL.Path, header)
		switch {
		case errors.Is(err, common.ErrorUnauthorized):
			s.logger.Debug(r.Context(), "authentication failed", "error", err)
			s.challenge(w, r, errors.Is(err, auth.ErrStaleNonce))
			return
		case err != nil:
			s.writeError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(withOwner(r.Context(), owner)))
	})
}

func (s *Server) challenge(w http.ResponseWriter, r *http.Request, stale bool) {
	c, err := s.auth.Challenge(stale)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("WWW-Authenticate", c)
	s.writeJSON(w, r, http.StatusUnauthorized, NewErrorResponse("authorization required"))
}
