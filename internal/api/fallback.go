// ABOUTME: Plain-HTML login form for constrained captive-portal browsers
// ABOUTME: No JavaScript, no external assets; renders fully inside OS minibrowsers

package api

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/addyya/portalgate/internal/auth"
)

var fallbackTmpl = template.Must(template.New("fallback").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Network Login</title>
<style>
body { font-family: sans-serif; max-width: 24em; margin: 3em auto; padding: 0 1em; }
input { display: block; width: 100%; box-sizing: border-box; margin: 0.5em 0 1em; padding: 0.5em; }
button { width: 100%; padding: 0.6em; }
.error { color: #b00; }
.success { color: #080; }
</style>
</head>
<body>
<h1>Network Login</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
{{if .Success}}
<p class="success">You are logged in. You can close this page and browse normally.</p>
{{else}}
<form method="POST" action="/api/auth/fallback">
<input type="hidden" name="client_ip" value="{{.ClientIP}}">
<label>Username</label>
<input type="text" name="username" autocapitalize="none" autocorrect="off" required>
<label>Password</label>
<input type="password" name="password" required>
<button type="submit">Log In</button>
</form>
{{end}}
</body>
</html>
`))

type fallbackView struct {
	ClientIP string
	Error    string
	Success  bool
}

func renderFallback(w http.ResponseWriter, status int, view fallbackView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	fallbackTmpl.Execute(w, view)
}

// handleFallbackForm serves the login form. The client IP arrives as a query
// parameter from the proxy's redirect; the transport address is the backstop.
func (s *Server) handleFallbackForm(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, r.URL.Query().Get("client_ip"))
	renderFallback(w, http.StatusOK, fallbackView{ClientIP: ip})
}

// handleFallbackSubmit processes the form post and re-renders with the
// outcome. Same status codes as the JSON endpoint so probes see the truth.
func (s *Server) handleFallbackSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		renderFallback(w, http.StatusBadRequest, fallbackView{Error: "Malformed form submission."})
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	ip := clientIP(r, r.PostFormValue("client_ip"))

	if username == "" || password == "" {
		renderFallback(w, http.StatusBadRequest, fallbackView{
			ClientIP: ip,
			Error:    "Username and password are required.",
		})
		return
	}

	_, err := s.manager.Login(r.Context(), ip, username, password, r.Header.Get("User-Agent"))
	if err != nil {
		var lockErr *auth.LockoutError
		switch {
		case errors.As(err, &lockErr):
			renderFallback(w, http.StatusTooManyRequests, fallbackView{
				ClientIP: ip,
				Error: fmt.Sprintf("Too many failed attempts. Try again in %d seconds.",
					lockErr.Remaining(s.now())),
			})
		case errors.Is(err, auth.ErrInvalidCredentials):
			renderFallback(w, http.StatusUnauthorized, fallbackView{
				ClientIP: ip,
				Error:    "Invalid username or password.",
			})
		default:
			s.logger.Error("fallback login failed", "ip", ip, "error", err)
			renderFallback(w, http.StatusInternalServerError, fallbackView{
				ClientIP: ip,
				Error:    "Something went wrong. Please try again.",
			})
		}
		return
	}

	renderFallback(w, http.StatusOK, fallbackView{ClientIP: ip, Success: true})
}
