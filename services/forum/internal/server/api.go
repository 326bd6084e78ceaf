package server

import (
	"net/http"
	"time"

	"companion/pkg/domain"
)

// apiRoom is the public JSON shape of a room. Host emails stay private.
type apiRoom struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Topic            string    `json:"topic"`
	Host             apiUser   `json:"host"`
	ParticipantCount int       `json:"participantCount"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type apiUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

func toAPIRoom(r domain.Room) apiRoom {
	return apiRoom{
		ID:               r.ID,
		Name:             r.Name,
		Description:      r.Description,
		Topic:            r.Topic.Name,
		Host:             apiUser{ID: r.Host.ID, Username: r.Host.Username, Name: r.Host.Name},
		ParticipantCount: r.ParticipantCount,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (s *Server) handleAPIRoutes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, []string{
		"GET /api",
		"GET /api/rooms",
		"GET /api/rooms/{id}",
	})
}

func (s *Server) handleAPIRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.app.Rooms()
	if err != nil {
		s.failJSON(w, r, err)
		return
	}
	items := make([]apiRoom, 0, len(rooms))
	for _, room := range rooms {
		items = append(items, toAPIRoom(room))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleAPIRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.app.GetRoom(r.PathValue("id"))
	if err != nil {
		s.failJSON(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIRoom(room))
}
