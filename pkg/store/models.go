package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Name         string
	Username     string `gorm:"uniqueIndex;not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Bio          string
	AvatarKey    string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

// TopicModel and RoomModel keep a folded copy of each searchable column so
// LIKE matching does not depend on the database's LOWER.
type TopicModel struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;not null"`
	NameFold  string    `gorm:"not null;default:''"`
	CreatedAt time.Time `gorm:"not null"`
}

func (TopicModel) TableName() string { return "topics" }

type RoomModel struct {
	ID              string    `gorm:"primaryKey"`
	HostID          string    `gorm:"not null;index"`
	TopicID         string    `gorm:"not null;index"`
	Name            string    `gorm:"not null"`
	Description     string
	NameFold        string    `gorm:"not null;default:''"`
	DescriptionFold string    `gorm:"not null;default:''"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null;index"`

	Host  UserModel  `gorm:"foreignKey:HostID"`
	Topic TopicModel `gorm:"foreignKey:TopicID"`
}

func (RoomModel) TableName() string { return "rooms" }

// RoomParticipantModel is the room <-> user join table. The composite key
// keeps one row per pair.
type RoomParticipantModel struct {
	RoomID    string    `gorm:"primaryKey"`
	UserID    string    `gorm:"primaryKey;index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (RoomParticipantModel) TableName() string { return "room_participants" }

type MessageModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	RoomID    string    `gorm:"not null;index"`
	Body      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`

	User UserModel `gorm:"foreignKey:UserID"`
	Room RoomModel `gorm:"foreignKey:RoomID"`
}

func (MessageModel) TableName() string { return "messages" }
