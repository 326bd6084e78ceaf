package server

import (
	"net/http"

	"companion/pkg/domain"
	"companion/services/forum/internal/app"
)

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	page, err := s.app.Home(r.URL.Query().Get("q"))
	if err != nil {
		s.fail(w, r, viewer, err)
		return
	}
	s.render(w, r, http.StatusOK, "home", viewer, pageData{"Page": page})
}

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	noCache(w)
	page, err := s.app.Room(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, viewer, err)
		return
	}
	s.render(w, r, http.StatusOK, "room", viewer, pageData{"Page": page})
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	noCache(w)
	id := r.PathValue("id")
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, roomPath(id), http.StatusFound)
		return
	}
	if _, err := s.app.PostMessage(viewer, id, r.PostForm.Get("body")); err != nil {
		if fields := app.FieldErrors(err); fields != nil {
			s.addFlash(w, r, flashError, fields["body"])
			http.Redirect(w, r, roomPath(id), http.StatusFound)
			return
		}
		s.fail(w, r, viewer, err)
		return
	}
	http.Redirect(w, r, roomPath(id), http.StatusFound)
}

func (s *Server) handleCreateRoomPage(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	s.renderRoomForm(w, r, http.StatusOK, viewer, app.RoomForm{}, nil, false)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	form := parseRoomForm(r)
	if _, err := s.app.CreateRoom(viewer, form); err != nil {
		if fields := app.FieldErrors(err); fields != nil {
			s.renderRoomForm(w, r, http.StatusBadRequest, viewer, form, fields, false)
			return
		}
		s.fail(w, r, viewer, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleUpdateRoomPage(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	room, err := s.app.RoomForEdit(viewer, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, viewer, err)
		return
	}
	form := app.RoomForm{Topic: room.Topic.Name, Name: room.Name, Description: room.Description}
	s.renderRoomForm(w, r, http.StatusOK, viewer, form, nil, true)
}

func (s *Server) handleUpdateRoom(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	form := parseRoomForm(r)
	if _, err := s.app.UpdateRoom(viewer, r.PathValue("id"), form); err != nil {
		if fields := app.FieldErrors(err); fields != nil {
			s.renderRoomForm(w, r, http.StatusBadRequest, viewer, form, fields, true)
			return
		}
		s.fail(w, r, viewer, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) renderRoomForm(w http.ResponseWriter, r *http.Request, status int, viewer domain.User, form app.RoomForm, fields map[string]string, editing bool) {
	topics, err := s.app.Topics("")
	if err != nil {
		s.fail(w, r, viewer, err)
		return
	}
	s.render(w, r, status, "room_form", viewer, pageData{
		"Form":    form,
		"Errors":  fields,
		"Topics":  topics,
		"Editing": editing,
	})
}

func parseRoomForm(r *http.Request) app.RoomForm {
	_ = r.ParseForm()
	return app.RoomForm{
		Topic:       r.PostForm.Get("topic"),
		Name:        r.PostForm.Get("name"),
		Description: r.PostForm.Get("description"),
	}
}

func (s *Server) handleDeleteRoomPage(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	room, err := s.app.RoomForEdit(viewer, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, viewer, err)
		return
	}
	s.render(w, r, http.StatusOK, "delete", viewer, pageData{"Object": room.Name})
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	id := r.PathValue("id")
	if err := s.app.DeleteRoom(viewer, id); err != nil {
		s.fail(w, r, viewer, err)
		return
	}
	s.audit(r, "forum.room.delete", "success", "user_id", viewer.ID, "room_id", id)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleDeleteMessagePage(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	msg, err := s.app.MessageForDelete(viewer, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, viewer, err)
		return
	}
	s.render(w, r, http.StatusOK, "delete", viewer, pageData{"Object": msg.Body})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	id := r.PathValue("id")
	if err := s.app.DeleteMessage(viewer, id); err != nil {
		s.fail(w, r, viewer, err)
		return
	}
	s.audit(r, "forum.message.delete", "success", "user_id", viewer.ID, "message_id", id)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	q := r.URL.Query().Get("q")
	topics, err := s.app.Topics(q)
	if err != nil {
		s.fail(w, r, viewer, err)
		return
	}
	s.render(w, r, http.StatusOK, "topics", viewer, pageData{"Query": q, "Topics": topics})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request, viewer domain.User) {
	messages, err := s.app.Activity()
	if err != nil {
		s.fail(w, r, viewer, err)
		return
	}
	s.render(w, r, http.StatusOK, "activity", viewer, pageData{"Messages": messages})
}
