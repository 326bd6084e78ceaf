package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"

	"companion/internal/ratelimit"
	"companion/internal/util"
	"companion/pkg/domain"
	"companion/pkg/storage"
	"companion/services/forum/internal/app"
)

const (
	sessionCookieName = "companion_session"
	flashCookieName   = "companion_flash"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App          *app.App
	SessionTTL   time.Duration
	FlashSecret  string
	CookieSecure bool
	StaticURL    string
	MediaURL     string

	// Redis backs the login and register limiters. A zero limit disables one.
	Redis                      *redis.Client
	LoginRateLimitPerMinute    int
	RegisterRateLimitPerMinute int

	TrustedProxies    *util.TrustedProxies
	APIAllowedOrigins []string
	// ImgSources extends the CSP img-src, e.g. with the MinIO origin.
	ImgSources []string
}

// Server exposes the forum pages and the read-only JSON API.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	pages           map[string]*template.Template
	flashes         *sessions.CookieStore
	sessionTTL      time.Duration
	cookieSecure    bool
	staticURL       string
	mediaURL        string
	trusted         *util.TrustedProxies
	apiOrigins      []string
	imgSources      []string
	loginLimiter    *ratelimit.FixedWindowLimiter
	registerLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("app is required")
	}
	if len(cfg.FlashSecret) < 32 {
		return nil, fmt.Errorf("flash secret must be at least 32 bytes")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 14 * 24 * time.Hour
	}
	s := &Server{
		app:          cfg.App,
		mux:          http.NewServeMux(),
		sessionTTL:   cfg.SessionTTL,
		cookieSecure: cfg.CookieSecure,
		staticURL:    withTrailingSlash(cfg.StaticURL, "/static/"),
		mediaURL:     withTrailingSlash(cfg.MediaURL, "/media/"),
		trusted:      cfg.TrustedProxies,
		apiOrigins:   cfg.APIAllowedOrigins,
		imgSources:   cfg.ImgSources,
	}

	rateWindow := time.Minute
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		if limit <= 0 {
			return nil, nil
		}
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "companion:forum:ratelimit:"+name, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	var err error
	if s.loginLimiter, err = newLimiter("login", cfg.LoginRateLimitPerMinute); err != nil {
		return nil, err
	}
	if s.registerLimiter, err = newLimiter("register", cfg.RegisterRateLimitPerMinute); err != nil {
		return nil, err
	}

	s.flashes = sessions.NewCookieStore([]byte(cfg.FlashSecret))
	s.flashes.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}

	if s.pages, err = s.loadTemplates(); err != nil {
		return nil, err
	}
	if err := s.routes(); err != nil {
		return nil, err
	}
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	h := util.WithSecurityHeaders(s.imgSources, s.mux)
	h = util.WithRequestLog("forum", s.trusted, h)
	return util.WithRequestID(h)
}

func (s *Server) routes() error {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /favicon.ico", s.handleFavicon)

	// auth
	s.mux.HandleFunc("GET /login", s.withViewer(s.handleLoginPage))
	s.mux.HandleFunc("POST /login", s.withViewer(s.handleLogin))
	s.mux.HandleFunc("GET /logout", s.handleLogout)
	s.mux.HandleFunc("GET /register", s.withViewer(s.handleRegisterPage))
	s.mux.HandleFunc("POST /register", s.withViewer(s.handleRegister))

	// profiles
	s.mux.HandleFunc("GET /profile/{id}", s.withViewer(s.handleProfile))
	s.mux.HandleFunc("GET /profile/{id}/update", s.loginRequired(s.handleUpdateProfilePage))
	s.mux.HandleFunc("POST /profile/{id}/update", s.loginRequired(s.handleUpdateProfile))

	// rooms & messages
	s.mux.HandleFunc("GET /{$}", s.withViewer(s.handleHome))
	s.mux.HandleFunc("GET /room/{id}", s.withViewer(s.handleRoom))
	s.mux.HandleFunc("POST /room/{id}", s.withViewer(s.handlePostMessage))
	s.mux.HandleFunc("GET /room/create", s.loginRequired(s.handleCreateRoomPage))
	s.mux.HandleFunc("POST /room/create", s.loginRequired(s.handleCreateRoom))
	s.mux.HandleFunc("GET /room/{id}/update", s.loginRequired(s.handleUpdateRoomPage))
	s.mux.HandleFunc("POST /room/{id}/update", s.loginRequired(s.handleUpdateRoom))
	s.mux.HandleFunc("GET /room/{id}/delete", s.loginRequired(s.handleDeleteRoomPage))
	s.mux.HandleFunc("POST /room/{id}/delete", s.loginRequired(s.handleDeleteRoom))
	s.mux.HandleFunc("GET /message/{id}/delete", s.loginRequired(s.handleDeleteMessagePage))
	s.mux.HandleFunc("POST /message/{id}/delete", s.loginRequired(s.handleDeleteMessage))
	s.mux.HandleFunc("GET /topics", s.withViewer(s.handleTopics))
	s.mux.HandleFunc("GET /activity", s.withViewer(s.handleActivity))

	// json api
	api := func(h http.HandlerFunc) http.Handler { return util.WithCORS(s.apiOrigins, h) }
	s.mux.Handle("GET /api", api(s.handleAPIRoutes))
	s.mux.Handle("GET /api/rooms", api(s.handleAPIRooms))
	s.mux.Handle("GET /api/rooms/{id}", api(s.handleAPIRoom))
	s.mux.Handle("OPTIONS /api/", api(func(http.ResponseWriter, *http.Request) {}))

	// assets
	if err := s.mountStatic(); err != nil {
		return err
	}
	s.mountMedia()

	s.mux.HandleFunc("GET /", s.withViewer(func(w http.ResponseWriter, r *http.Request, viewer domain.User) {
		s.fail(w, r, viewer, app.ErrNotFound)
	}))
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFavicon(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, s.staticURL+"images/favicon.ico", http.StatusMovedPermanently)
}

// mountMedia serves avatars from disk when the local file store is in use.
// Object storage hands out its own URLs.
func (s *Server) mountMedia() {
	fileStore, ok := s.app.Media().(*storage.FileStore)
	if !ok || !strings.HasPrefix(s.mediaURL, "/") {
		return
	}
	files := http.StripPrefix(s.mediaURL, http.FileServer(http.Dir(fileStore.Root())))
	s.mux.Handle("GET "+s.mediaURL, noDirListing(files))
}

func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// viewer wrappers
type viewerHandler func(http.ResponseWriter, *http.Request, domain.User)

// withViewer resolves the session cookie to a user. Missing or stale
// sessions yield the anonymous viewer.
func (s *Server) withViewer(next viewerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		next(w, r, s.viewer(r))
	}
}

// loginRequired redirects anonymous viewers to the login page.
func (s *Server) loginRequired(next viewerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer := s.viewer(r)
		if viewer.IsAnonymous() {
			s.redirectToLogin(w, r)
			return
		}
		next(w, r, viewer)
	}
}

func (s *Server) viewer(r *http.Request) domain.User {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return domain.User{}
	}
	user, ok, err := s.app.Authenticate(cookie.Value)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("resolve session", "err", err)
		return domain.User{}
	}
	if !ok {
		return domain.User{}
	}
	return user
}

func (s *Server) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// safeNext returns next when it is a local absolute path, else "/".
func safeNext(next string) string {
	next = strings.TrimSpace(next)
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return next
}

func withTrailingSlash(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if !strings.HasSuffix(value, "/") {
		value += "/"
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

// allowRate reports whether the request is within limiter's quota. A nil
// limiter means the limit is disabled.
func (s *Server) allowRate(r *http.Request, limiter *ratelimit.FixedWindowLimiter) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	if limiter.Allow(key) {
		return true
	}
	slog.Warn("rate limited", "path", r.URL.Path)
	return false
}
