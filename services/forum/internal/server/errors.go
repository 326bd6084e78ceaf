package server

import (
	"errors"
	"net/http"

	"companion/internal/util"
	"companion/pkg/domain"
	"companion/services/forum/internal/app"
)

const notAllowed = "You are not allowed here."

// fail maps an application error to the response every page handler uses
// for it. Validation errors are handled by the form handlers themselves.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, viewer domain.User, err error) {
	switch {
	case errors.Is(err, app.ErrUnauthenticated):
		s.redirectToLogin(w, r)
	case errors.Is(err, app.ErrForbidden):
		s.audit(r, "forum.authorize", "fail", "user_id", viewer.ID, "reason", "not_owner")
		s.render(w, r, http.StatusForbidden, "notallowed", viewer, pageData{"Message": notAllowed})
	case errors.Is(err, app.ErrNotFound):
		s.render(w, r, http.StatusNotFound, "notfound", viewer, nil)
	case errors.Is(err, app.ErrMediaUnavailable):
		util.LoggerFromContext(r.Context()).Error("media unavailable", "path", r.URL.Path)
		s.render(w, r, http.StatusServiceUnavailable, "error", viewer, pageData{"Message": "Uploads are unavailable right now."})
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		s.render(w, r, http.StatusInternalServerError, "error", viewer, pageData{"Message": "Something went wrong."})
	}
}

// failJSON is fail for the JSON API.
func (s *Server) failJSON(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		util.LoggerFromContext(r.Context()).Error("api request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
