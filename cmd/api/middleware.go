package main

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tradeflow/auth"
)

type contextKey string

const claimsKey contextKey = "claims"

// requireAuth validates the bearer token and stashes the verified identity
// on the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := s.auths.VerifyToken(token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFrom(r *http.Request) (auth.Claims, bool) {
	claims, ok := r.Context().Value(claimsKey).(auth.Claims)
	return claims, ok
}

// judgeLimiter throttles dispute judgments per user. Limiters idle for an
// hour are evicted so the map does not grow with one-off callers.
type judgeLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	perMin   int
	burst    int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdleTTL = time.Hour

func newJudgeLimiter(perMin, burst int) *judgeLimiter {
	if perMin <= 0 {
		perMin = 6
	}
	if burst <= 0 {
		burst = 3
	}
	return &judgeLimiter{
		limiters: make(map[string]*limiterEntry),
		perMin:   perMin,
		burst:    burst,
	}
}

func (j *judgeLimiter) allow(userID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	entry, ok := j.limiters[userID]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(j.perMin)), j.burst),
		}
		j.limiters[userID] = entry
	}
	entry.lastSeen = now

	for id, e := range j.limiters {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(j.limiters, id)
		}
	}

	return entry.limiter.Allow()
}

func (s *Server) judgeRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if !s.limiter.allow(claims.UserID) {
			respondError(w, http.StatusTooManyRequests, "judge rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
