package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"diagcenter/internal/app"
	"diagcenter/internal/domain"
	"diagcenter/internal/payment"
	"diagcenter/internal/ratelimit"
	"diagcenter/internal/store"
	"diagcenter/internal/util"
)

const sessionCookieName = "token"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                       *app.App
	AllowedOrigins            []string
	RedisAddr                 string
	RedisPassword             string
	SessionRateLimitPerMinute int
	SessionTTL                time.Duration
	CookieSecure              bool
}

// Server exposes HTTP endpoints for the booking backend.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	allowedOrigins []string
	sessionLimiter *ratelimit.SessionLimiter
	sessionTTL     time.Duration
	cookieSecure   bool
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	sessionLimit := cfg.SessionRateLimitPerMinute
	if sessionLimit <= 0 {
		sessionLimit = 20
	}
	limiter, err := ratelimit.NewSessionLimiter(cfg.RedisAddr, cfg.RedisPassword, sessionLimit, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("init session limiter: %w", err)
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = store.DefaultSessionTTL
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		allowedOrigins: cfg.AllowedOrigins,
		sessionLimiter: limiter,
		sessionTTL:     ttl,
		cookieSecure:   cfg.CookieSecure,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, util.WithRequestLog(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// session
	s.mux.HandleFunc("/api/session", s.handleIssueSession)
	s.mux.HandleFunc("/api/session/logout", s.handleLogout)

	// users
	s.mux.Handle("/api/users", s.adminOnly(s.handleListUsers))
	s.mux.Handle("/api/users/", s.authenticated(s.handleUserByPath))

	// banners
	s.mux.HandleFunc("/api/banners", s.handleBanners)
	s.mux.HandleFunc("/api/banners/active", s.handleActiveBanner)
	s.mux.Handle("/api/banners/", s.adminOnly(s.handleBannerByID))

	// listings
	s.mux.HandleFunc("/api/listings", s.handleListings)
	s.mux.HandleFunc("/api/listings/", s.handleListingByPath)

	// payments & appointments
	s.mux.Handle("/api/payment-authorizations", s.authenticated(s.handleAuthorizePayment))
	s.mux.Handle("/api/appointments", s.authenticated(s.handleCreateAppointment))
	s.mux.Handle("/api/appointments/", s.authenticated(s.handleAppointmentByPath))

	// location reference data
	s.mux.HandleFunc("/api/location", s.handleLocation)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

// authenticated rejects requests without a valid session token and passes
// the verified user (loaded by token subject) to the handler.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "gate.authenticate", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized access")
			return
		}
		next(w, r, user)
	})
}

// adminOnly additionally requires the caller's persisted role to be admin.
// The role is read from the store at request time; a concurrent downgrade
// between this check and the protected write is a documented limitation.
func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if user.Role != domain.RoleAdmin {
			s.audit(r, "gate.authorize", "fail", "email", user.Email, "reason", "not_admin")
			writeError(w, http.StatusUnauthorized, "unauthorized access")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := sessionToken(r)
	if !ok {
		return domain.User{}, false
	}
	user, _, ok := s.app.UserFromToken(token)
	return user, ok
}

// requireAdmin is the inline variant for routes whose read methods are public.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) (domain.User, bool) {
	user, ok := s.authorize(r)
	if !ok {
		s.audit(r, "gate.authenticate", "fail")
		writeError(w, http.StatusUnauthorized, "unauthorized access")
		return domain.User{}, false
	}
	if user.Role != domain.RoleAdmin {
		s.audit(r, "gate.authorize", "fail", "email", user.Email, "reason", "not_admin")
		writeError(w, http.StatusUnauthorized, "unauthorized access")
		return domain.User{}, false
	}
	return user, true
}

// session handlers
func (s *Server) handleIssueSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, "too many session requests") {
		s.audit(r, "session.issue", "rate_limited")
		return
	}
	var req sessionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, err := s.app.IssueSession(req.Email)
	if err != nil {
		s.audit(r, "session.issue", "fail", "reason", err.Error())
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit(r, "session.issue", "success", "email", req.Email)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	// Stateless tokens cannot be revoked; clearing the cookie is all logout does.
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	s.audit(r, "session.logout", "success")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// sessionToken extracts the bearer credential from the session cookie or,
// failing that, the Authorization header.
func sessionToken(r *http.Request) (string, bool) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return token, true
		}
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")); token != "" {
			return token, true
		}
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// writeAppError maps core errors onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, app.ErrNoReport):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrOutOfCapacity):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNotOwner):
		writeError(w, http.StatusUnauthorized, "unauthorized access")
	default:
		var apiErr *payment.APIError
		if errors.As(err, &apiErr) {
			writeError(w, http.StatusBadGateway, apiErr.Message)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, msg string) bool {
	if s.sessionLimiter.Allow(util.ClientIP(r)) {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(s.sessionLimiter.Window().Seconds())))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

type sessionRequest struct {
	Email string `json:"email"`
}
