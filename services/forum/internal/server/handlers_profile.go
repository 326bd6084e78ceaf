package server

import (
	"errors"
	"net/http"

	"companion/pkg/domain"
	"companion/services/forum/internal/app"
)

// multipartOverhead covers the non-file fields of the profile form.
const multipartOverhead = 1 << 20

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	page, err := s.app.Profile(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, viewer, err)
		return
	}
	s.render(w, r, http.StatusOK, "profile", viewer, pageData{"Page": page})
}

func (s *Server) handleUpdateProfilePage(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	user, err := s.app.UserForEdit(viewer, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, viewer, err)
		return
	}
	s.render(w, r, http.StatusOK, "update_user", viewer, pageData{
		"User": user,
		"Form": app.ProfileForm{Name: user.Name, Username: user.Username, Email: user.Email, Bio: user.Bio},
	})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	id := r.PathValue("id")
	user, err := s.app.UserForEdit(viewer, id)
	if err != nil {
		s.fail(w, r, viewer, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxUploadBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(s.app.MaxUploadBytes() + multipartOverhead); err != nil {
		data := pageData{
			"User":   user,
			"Form":   app.ProfileForm{Name: user.Name, Username: user.Username, Email: user.Email, Bio: user.Bio},
			"Errors": map[string]string{"avatar": "The upload is too large or malformed."},
		}
		s.render(w, r, http.StatusBadRequest, "update_user", viewer, data)
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := app.ProfileForm{
		Name:     r.PostFormValue("name"),
		Username: r.PostFormValue("username"),
		Email:    r.PostFormValue("email"),
		Bio:      r.PostFormValue("bio"),
	}
	var upload *app.Upload
	file, header, err := r.FormFile("avatar")
	switch {
	case err == nil:
		defer file.Close()
		upload = &app.Upload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        file,
		}
	case !errors.Is(err, http.ErrMissingFile):
		s.fail(w, r, viewer, err)
		return
	}

	updated, err := s.app.UpdateProfile(r.Context(), viewer, id, form, upload)
	if err != nil {
		if fields := app.FieldErrors(err); fields != nil {
			s.render(w, r, http.StatusBadRequest, "update_user", viewer, pageData{
				"User":   user,
				"Form":   form,
				"Errors": fields,
			})
			return
		}
		s.fail(w, r, viewer, err)
		return
	}
	s.addFlash(w, r, flashSuccess, "Profile updated.")
	http.Redirect(w, r, "/profile/"+updated.ID, http.StatusFound)
}
