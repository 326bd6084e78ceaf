package server

import (
	"errors"
	"net/http"

	"companion/pkg/domain"
	"companion/services/forum/internal/app"
)

const (
	tooManyAttempts = "Too many attempts. Please wait a minute and try again."
	badCredentials  = "Email or password does not match."
)

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	if !viewer.IsAnonymous() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	s.render(w, r, http.StatusOK, "login", viewer, pageData{"Next": safeNext(r.URL.Query().Get("next"))})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	if !viewer.IsAnonymous() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.render(w, r, http.StatusBadRequest, "login", viewer, pageData{"Next": "/"})
		return
	}
	email := r.PostForm.Get("email")
	next := safeNext(r.PostForm.Get("next"))
	data := pageData{"Email": email, "Next": next}

	if !s.allowRate(r, s.loginLimiter) {
		s.audit(r, "forum.login", "fail", "reason", "rate_limited")
		w.Header().Set("Retry-After", "60")
		data.flash(flashError, tooManyAttempts)
		s.render(w, r, http.StatusTooManyRequests, "login", viewer, data)
		return
	}

	user, token, err := s.app.Login(email, r.PostForm.Get("password"))
	if err != nil {
		if errors.Is(err, app.ErrInvalidCredentials) {
			s.audit(r, "forum.login", "fail", "reason", "invalid_credentials")
			data.flash(flashError, badCredentials)
			s.render(w, r, http.StatusOK, "login", viewer, data)
			return
		}
		s.fail(w, r, viewer, err)
		return
	}
	s.audit(r, "forum.login", "success", "user_id", user.ID)
	s.setSessionCookie(w, token)
	http.Redirect(w, r, next, http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if err := s.app.Logout(cookie.Value); err != nil {
			s.audit(r, "forum.logout", "fail", "reason", "revoke_failed")
		} else {
			s.audit(r, "forum.logout", "success")
		}
	}
	s.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	if !viewer.IsAnonymous() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	s.render(w, r, http.StatusOK, "register", viewer, pageData{"Form": app.RegisterForm{}})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	if !viewer.IsAnonymous() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.render(w, r, http.StatusBadRequest, "register", viewer, pageData{"Form": app.RegisterForm{}})
		return
	}
	form := app.RegisterForm{
		Name:      r.PostForm.Get("name"),
		Username:  r.PostForm.Get("username"),
		Email:     r.PostForm.Get("email"),
		Password1: r.PostForm.Get("password1"),
		Password2: r.PostForm.Get("password2"),
	}
	// Never echo passwords back into the page.
	echo := form
	echo.Password1, echo.Password2 = "", ""
	data := pageData{"Form": echo}

	if !s.allowRate(r, s.registerLimiter) {
		s.audit(r, "forum.register", "fail", "reason", "rate_limited")
		w.Header().Set("Retry-After", "60")
		data.flash(flashError, tooManyAttempts)
		s.render(w, r, http.StatusTooManyRequests, "register", viewer, data)
		return
	}

	user, token, err := s.app.Register(form)
	if err != nil {
		if fields := app.FieldErrors(err); fields != nil {
			s.audit(r, "forum.register", "fail", "reason", "validation")
			data["Errors"] = fields
			data.flash(flashError, "Please follow the rules while entering details.")
			s.render(w, r, http.StatusBadRequest, "register", viewer, data)
			return
		}
		s.fail(w, r, viewer, err)
		return
	}
	s.audit(r, "forum.register", "success", "user_id", user.ID)
	s.setSessionCookie(w, token)
	http.Redirect(w, r, "/", http.StatusFound)
}
