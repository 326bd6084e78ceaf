package domain

import "time"

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Bio          string    `json:"bio"`
	AvatarKey    string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsAnonymous reports whether u is the zero user used for visitors without a session.
func (u User) IsAnonymous() bool {
	return u.ID == ""
}

// DisplayName prefers the full name and falls back to the username.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

type Topic struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RoomCount int       `json:"roomCount"`
	CreatedAt time.Time `json:"createdAt"`
}

type Room struct {
	ID          string    `json:"id"`
	HostID      string    `json:"hostId"`
	TopicID     string    `json:"topicId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// Populated on reads.
	Host             User  `json:"host"`
	Topic            Topic `json:"topic"`
	ParticipantCount int   `json:"participantCount"`
}

type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	RoomID    string    `json:"roomId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Populated on reads.
	Author   User   `json:"author"`
	RoomName string `json:"roomName"`
}
