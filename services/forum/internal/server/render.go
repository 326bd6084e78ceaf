package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"companion/internal/util"
	"companion/pkg/domain"
)

//go:embed templates static
var assets embed.FS

// Page templates rendered inside templates/base.html.
var pageNames = []string{
	"home", "login", "register", "profile", "update_user", "room", "room_form",
	"delete", "topics", "activity", "notallowed", "notfound", "error",
}

const (
	flashError   = "error"
	flashSuccess = "success"
)

type flashMessage struct {
	Level string
	Text  string
}

// pageData is the template context for one page. render adds the viewer and
// pending flash messages under "Viewer" and "Flashes".
type pageData map[string]any

func (d pageData) flash(level, text string) {
	list, _ := d["inlineFlashes"].([]flashMessage)
	d["inlineFlashes"] = append(list, flashMessage{Level: level, Text: text})
}

func (s *Server) loadTemplates() (map[string]*template.Template, error) {
	// avatar is a placeholder here; render swaps in avatarFunc for each request.
	funcs := template.FuncMap{
		"static":     func(name string) string { return s.staticURL + strings.TrimPrefix(name, "/") },
		"avatar":     func(domain.User) string { return "" },
		"timesince":  timeSince,
		"fieldError": fieldError,
		"dict":       dict,
	}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New(name).Funcs(funcs).ParseFS(assets,
			"templates/base.html",
			"templates/partials/*.html",
			"templates/"+name+".html",
		)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return pages, nil
}

func (s *Server) mountStatic() error {
	if !strings.HasPrefix(s.staticURL, "/") {
		return nil
	}
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		return fmt.Errorf("static assets: %w", err)
	}
	files := http.StripPrefix(s.staticURL, http.FileServerFS(sub))
	s.mux.Handle("GET "+s.staticURL, noDirListing(files))
	return nil
}

// render executes page name into a buffer so template errors become a clean 500.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, viewer domain.User, data pageData) {
	tmpl, ok := s.pages[name]
	if !ok {
		util.LoggerFromContext(r.Context()).Error("unknown template", "name", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if data == nil {
		data = pageData{}
	}
	flashes := s.popFlashes(w, r)
	if inline, ok := data["inlineFlashes"].([]flashMessage); ok {
		flashes = append(flashes, inline...)
	}
	data["Viewer"] = viewer
	data["Flashes"] = flashes

	// Parsed pages are never executed so they stay cloneable.
	page, err := tmpl.Clone()
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("clone template", "name", name, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	page.Funcs(template.FuncMap{"avatar": s.avatarFunc(r.Context())})

	var buf bytes.Buffer
	if err := page.ExecuteTemplate(&buf, "base", data); err != nil {
		util.LoggerFromContext(r.Context()).Error("render template", "name", name, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// avatarFunc resolves avatar links with the request context, once per
// avatar key for the page being rendered.
func (s *Server) avatarFunc(ctx context.Context) func(domain.User) string {
	urls := make(map[string]string)
	return func(u domain.User) string {
		if url, ok := urls[u.AvatarKey]; ok {
			return url
		}
		url := s.app.AvatarURL(ctx, u)
		if url == "" {
			url = s.staticURL + "images/avatar.svg"
		}
		urls[u.AvatarKey] = url
		return url
	}
}

// addFlash queues a message for the next rendered page.
func (s *Server) addFlash(w http.ResponseWriter, r *http.Request, level, text string) {
	session, _ := s.flashes.Get(r, flashCookieName)
	session.AddFlash(text, level)
	if err := session.Save(r, w); err != nil {
		util.LoggerFromContext(r.Context()).Warn("save flash", "err", err)
	}
}

func (s *Server) popFlashes(w http.ResponseWriter, r *http.Request) []flashMessage {
	if _, err := r.Cookie(flashCookieName); err != nil {
		return nil
	}
	// A tampered cookie yields a fresh session, which Save then overwrites.
	session, _ := s.flashes.Get(r, flashCookieName)
	var out []flashMessage
	for _, level := range []string{flashError, flashSuccess} {
		for _, v := range session.Flashes(level) {
			if text, ok := v.(string); ok {
				out = append(out, flashMessage{Level: level, Text: text})
			}
		}
	}
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		util.LoggerFromContext(r.Context()).Warn("clear flash", "err", err)
	}
	return out
}

// timeSince renders a coarse age like "3 hours ago" for listings.
func timeSince(t time.Time) string {
	d := time.Since(t)
	if d < time.Minute {
		return "just now"
	}
	units := []struct {
		size time.Duration
		name string
	}{
		{365 * 24 * time.Hour, "year"},
		{30 * 24 * time.Hour, "month"},
		{7 * 24 * time.Hour, "week"},
		{24 * time.Hour, "day"},
		{time.Hour, "hour"},
		{time.Minute, "minute"},
	}
	for _, u := range units {
		if n := int(d / u.size); n >= 1 {
			if n == 1 {
				return "1 " + u.name + " ago"
			}
			return fmt.Sprintf("%d %ss ago", n, u.name)
		}
	}
	return "just now"
}

// fieldError looks up a form field message. errs may be nil or absent.
func fieldError(errs any, field string) string {
	m, _ := errs.(map[string]string)
	return m[field]
}

// dict builds a map from key/value pairs so partials can take several arguments.
func dict(pairs ...any) (map[string]any, error) {
	if len(pairs)%2 != 0 {
		return nil, errors.New("dict needs key/value pairs")
	}
	m := make(map[string]any, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict key %v is not a string", pairs[i])
		}
		m[key] = pairs[i+1]
	}
	return m, nil
}

func roomPath(id string) string {
	return path.Join("/room", id)
}
