package store

import (
	"strings"
	"time"

	"companion/pkg/domain"
)

// Store defines persistence operations for users, topics, rooms, and messages.
// Lookups return ok=false with a nil error when the entity does not exist.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	HasUsername(username string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// topics
	GetOrCreateTopic(name string, now time.Time) (domain.Topic, error)
	ListTopics(query string, limit int) ([]domain.Topic, error)

	// rooms
	SaveRoom(domain.Room) error
	GetRoom(id string) (domain.Room, bool, error)
	SearchRooms(query string) ([]domain.Room, error)
	ListRoomsByHost(hostID string) ([]domain.Room, error)
	DeleteRoom(id string) error
	AddParticipant(roomID, userID string, at time.Time) error
	ListParticipants(roomID string) ([]domain.User, error)

	// messages
	AppendMessage(domain.Message) error
	GetMessage(id string) (domain.Message, bool, error)
	DeleteMessage(id string) error
	ListMessagesByRoom(roomID string) ([]domain.Message, error)
	ListMessagesByUser(userID string) ([]domain.Message, error)
	ListMessagesByTopic(query string, limit int) ([]domain.Message, error)
	ListMessages(limit int) ([]domain.Message, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// fold is the case folding shared by every search: the query and the stored
// text are folded the same way in Go.
func fold(s string) string {
	return strings.ToLower(s)
}
