// ABOUTME: JSON handlers for the auth API plus the JWT-protected admin listings
// ABOUTME: Request DTOs validated with go-playground/validator

package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/addyya/portalgate/internal/auth"
	"github.com/addyya/portalgate/internal/store"
)

// Global validator instance, reused across all handlers.
var validate = validator.New()

// LoginRequest is the JSON body for POST /api/auth/login. ClientIP is
// optional: the portal frontend passes the IP it received via the redirect
// query parameter, since the login request itself may arrive relayed.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	ClientIP string `json:"client_ip" validate:"omitempty,ip"`
}

// LoginResponse is the success payload for login.
type LoginResponse struct {
	Success      bool   `json:"success"`
	SessionToken string `json:"session_token"`
	Username     string `json:"username"`
	ClientIP     string `json:"client_ip"`
	ExpiresIn    int    `json:"expires_in"`
}

// VerifyRequest is the JSON body for POST /api/auth/verify.
type VerifyRequest struct {
	SessionToken string `json:"session_token" validate:"required"`
	ClientIP     string `json:"client_ip" validate:"omitempty,ip"`
}

// VerifyResponse reports whether a session token is active for the IP.
type VerifyResponse struct {
	Valid bool `json:"valid"`
}

// LogoutRequest is the JSON body for POST /api/auth/logout.
type LogoutRequest struct {
	ClientIP string `json:"client_ip" validate:"omitempty,ip"`
}

// ErrorResponse is the JSON error shape shared by all endpoints.
type ErrorResponse struct {
	Error            string `json:"error"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// clientIP resolves the IP a request acts on: an explicit valid override
// wins, otherwise the transport address (chi's RealIP middleware has already
// folded X-Forwarded-For and X-Real-IP into RemoteAddr).
func clientIP(r *http.Request, explicit string) string {
	if explicit != "" && net.ParseIP(explicit) != nil {
		return explicit
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "username and password are required"})
		return
	}

	ip := clientIP(r, req.ClientIP)
	result, err := s.manager.Login(r.Context(), ip, req.Username, req.Password, r.Header.Get("User-Agent"))
	if err != nil {
		var lockErr *auth.LockoutError
		switch {
		case errors.As(err, &lockErr):
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error:            "too many failed attempts, try again later",
				RemainingSeconds: lockErr.Remaining(s.now()),
			})
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid username or password"})
		default:
			s.logger.Error("login failed", "ip", ip, "error", err)
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Success:      true,
		SessionToken: result.SessionToken,
		Username:     result.Username,
		ClientIP:     result.ClientIP,
		ExpiresIn:    int(result.ExpiresIn / time.Second),
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "session_token is required"})
		return
	}

	ip := clientIP(r, req.ClientIP)
	valid, err := s.manager.Verify(r.Context(), req.SessionToken, ip)
	if err != nil {
		s.logger.Error("session verification failed", "ip", ip, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Valid: valid})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	// An empty body is fine: logout falls back to the transport IP.
	json.NewDecoder(r.Body).Decode(&req)

	ip := clientIP(r, req.ClientIP)
	if err := s.manager.Logout(r.Context(), ip); err != nil {
		s.logger.Error("logout failed", "ip", ip, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// requireAdmin guards the admin listings with a Bearer JWT signed by the
// configured admin secret.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "admin API disabled"})
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token"})
			return
		}
		if _, err := s.verifier.Verify(token); err != nil {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	devices, err := s.store.ListDevices(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing devices failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	filter := store.AttemptFilter{
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	attempts, err := s.store.ListLoginAttempts(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing login attempts failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts, "count": len(attempts)})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
