package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"companion/pkg/domain"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// likeEscape is the escape character used in every LIKE clause built here.
const likeEscape = "!"

// GormStore implements Store using GORM on Postgres or SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB for driver and runs auto-migrations.
func NewGormStore(driver, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dialector.Name() == DriverSQLite {
		// One connection keeps ":memory:" databases alive and serializes writers.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&UserModel{}, &TopicModel{}, &RoomModel{}, &RoomParticipantModel{}, &MessageModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := backfillFolds(db); err != nil {
		return nil, fmt.Errorf("backfill search columns: %w", err)
	}
	return &GormStore{db: db}, nil
}

// backfillFolds fills the fold columns of rows written before they existed.
// UpdateColumns leaves updated_at alone so room ordering is unchanged.
func backfillFolds(db *gorm.DB) error {
	var topics []TopicModel
	if err := db.Where("name_fold = ?", "").Find(&topics).Error; err != nil {
		return err
	}
	for _, t := range topics {
		if err := db.Model(&TopicModel{}).Where("id = ?", t.ID).UpdateColumn("name_fold", fold(t.Name)).Error; err != nil {
			return err
		}
	}
	var rooms []RoomModel
	if err := db.Where("name_fold = ? OR (description_fold = ? AND description <> ?)", "", "", "").Find(&rooms).Error; err != nil {
		return err
	}
	for _, r := range rooms {
		if err := db.Model(&RoomModel{}).Where("id = ?", r.ID).UpdateColumns(map[string]any{
			"name_fold":        fold(r.Name),
			"description_fold": fold(r.Description),
		}).Error; err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "username", "email", "password_hash", "bio", "avatar_key", "updated_at"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	return s.exists(&UserModel{}, "email = ?", email)
}

// HasUsername checks if username exists.
func (s *GormStore) HasUsername(username string) (bool, error) {
	return s.exists(&UserModel{}, "username = ?", username)
}

func (s *GormStore) exists(model any, query string, args ...any) (bool, error) {
	var count int64
	if err := s.db.Model(model).Where(query, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetOrCreateTopic returns the topic named name, inserting it when missing.
// The insert relies on the unique index on name, so concurrent callers
// converge on one row. now stamps a newly created topic.
func (s *GormStore) GetOrCreateTopic(name string, now time.Time) (domain.Topic, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Topic{}, errors.New("topic name required")
	}
	candidate := TopicModel{
		ID:        uuid.NewString(),
		Name:      name,
		NameFold:  fold(name),
		CreatedAt: now.UTC(),
	}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&candidate).Error; err != nil {
		return domain.Topic{}, fmt.Errorf("upsert topic: %w", err)
	}
	var model TopicModel
	if err := s.db.Where("name = ?", name).First(&model).Error; err != nil {
		return domain.Topic{}, fmt.Errorf("load topic: %w", err)
	}
	return topicFromModel(model, 0), nil
}

type topicCountRow struct {
	ID        string
	Name      string
	CreatedAt time.Time
	RoomCount int
}

// ListTopics returns topics whose name contains query, oldest first, with room counts.
// limit <= 0 means no limit.
func (s *GormStore) ListTopics(query string, limit int) ([]domain.Topic, error) {
	tx := s.db.Model(&TopicModel{}).
		Select("topics.id, topics.name, topics.created_at, COUNT(rooms.id) AS room_count").
		Joins("LEFT JOIN rooms ON rooms.topic_id = topics.id").
		Group("topics.id, topics.name, topics.created_at").
		Order("topics.created_at ASC, topics.name ASC")
	if pattern, ok := likePattern(query); ok {
		tx = tx.Where("topics.name_fold LIKE ? ESCAPE '"+likeEscape+"'", pattern)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var rows []topicCountRow
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Topic, 0, len(rows))
	for _, row := range rows {
		res = append(res, domain.Topic{
			ID:        row.ID,
			Name:      row.Name,
			RoomCount: row.RoomCount,
			CreatedAt: row.CreatedAt,
		})
	}
	return res, nil
}

// SaveRoom stores or updates a room. Host and topic must already exist.
func (s *GormStore) SaveRoom(r domain.Room) error {
	model := roomToModel(r)
	return s.db.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"topic_id", "name", "description", "name_fold", "description_fold", "updated_at"}),
	}).Create(&model).Error
}

// GetRoom retrieves a room with its host and topic.
func (s *GormStore) GetRoom(id string) (domain.Room, bool, error) {
	var model RoomModel
	if err := s.db.Preload("Host").Preload("Topic").First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Room{}, false, nil
		}
		return domain.Room{}, false, err
	}
	rooms, err := s.withParticipantCounts([]RoomModel{model})
	if err != nil {
		return domain.Room{}, false, err
	}
	return rooms[0], true, nil
}

// SearchRooms returns rooms where query is a case-insensitive substring of the
// topic name, room name, description, or host username. An empty query
// matches every room.
func (s *GormStore) SearchRooms(query string) ([]domain.Room, error) {
	tx := s.db.Model(&RoomModel{}).
		Select("rooms.*").
		Joins("JOIN topics ON topics.id = rooms.topic_id").
		Joins("JOIN users ON users.id = rooms.host_id")
	if pattern, ok := likePattern(query); ok {
		like := " LIKE ? ESCAPE '" + likeEscape + "'"
		// Usernames are stored lowercase and limited to ASCII, so LOWER agrees with fold.
		tx = tx.Where(
			"topics.name_fold"+like+
				" OR rooms.name_fold"+like+
				" OR rooms.description_fold"+like+
				" OR LOWER(users.username)"+like,
			pattern, pattern, pattern, pattern,
		)
	}
	var models []RoomModel
	if err := tx.Preload("Host").Preload("Topic").
		Order("rooms.updated_at DESC, rooms.created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return s.withParticipantCounts(models)
}

// ListRoomsByHost returns rooms hosted by hostID, most recently updated first.
func (s *GormStore) ListRoomsByHost(hostID string) ([]domain.Room, error) {
	var models []RoomModel
	if err := s.db.Preload("Host").Preload("Topic").
		Where("host_id = ?", hostID).
		Order("updated_at DESC, created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return s.withParticipantCounts(models)
}

type participantCountRow struct {
	RoomID string
	Total  int
}

func (s *GormStore) withParticipantCounts(models []RoomModel) ([]domain.Room, error) {
	res := make([]domain.Room, 0, len(models))
	if len(models) == 0 {
		return res, nil
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	var rows []participantCountRow
	if err := s.db.Model(&RoomParticipantModel{}).
		Select("room_id, COUNT(*) AS total").
		Where("room_id IN ?", ids).
		Group("room_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.RoomID] = row.Total
	}
	for _, m := range models {
		room := roomFromModel(m)
		room.ParticipantCount = counts[m.ID]
		res = append(res, room)
	}
	return res, nil
}

// DeleteRoom removes a room together with its messages and participant rows.
func (s *GormStore) DeleteRoom(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", id).Delete(&MessageModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", id).Delete(&RoomParticipantModel{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&RoomModel{}).Error
	})
}

// AddParticipant records userID as a participant of roomID joined at at.
// Repeated calls are no-ops and keep the first join time.
func (s *GormStore) AddParticipant(roomID, userID string, at time.Time) error {
	model := RoomParticipantModel{
		RoomID:    roomID,
		UserID:    userID,
		CreatedAt: at.UTC(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&model).Error
}

// ListParticipants returns the users who joined roomID, in join order.
func (s *GormStore) ListParticipants(roomID string) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Model(&UserModel{}).
		Select("users.*").
		Joins("JOIN room_participants ON room_participants.user_id = users.id").
		Where("room_participants.room_id = ?", roomID).
		Order("room_participants.created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// AppendMessage stores a message. Author and room must already exist.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.Omit(clause.Associations).Create(&model).Error
}

// GetMessage retrieves a message with its author and room.
func (s *GormStore) GetMessage(id string) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.Preload("User").Preload("Room").First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// DeleteMessage removes a message.
func (s *GormStore) DeleteMessage(id string) error {
	return s.db.Where("id = ?", id).Delete(&MessageModel{}).Error
}

// ListMessagesByRoom returns the messages of roomID, newest first.
func (s *GormStore) ListMessagesByRoom(roomID string) ([]domain.Message, error) {
	return s.listMessages(s.db.Where("messages.room_id = ?", roomID), 0)
}

// ListMessagesByUser returns the messages authored by userID, newest first.
func (s *GormStore) ListMessagesByUser(userID string) ([]domain.Message, error) {
	return s.listMessages(s.db.Where("messages.user_id = ?", userID), 0)
}

// ListMessagesByTopic returns messages whose room's topic name contains query,
// newest first. limit <= 0 means no limit.
func (s *GormStore) ListMessagesByTopic(query string, limit int) ([]domain.Message, error) {
	tx := s.db.Select("messages.*").
		Joins("JOIN rooms ON rooms.id = messages.room_id").
		Joins("JOIN topics ON topics.id = rooms.topic_id")
	if pattern, ok := likePattern(query); ok {
		tx = tx.Where("topics.name_fold LIKE ? ESCAPE '"+likeEscape+"'", pattern)
	}
	return s.listMessages(tx, limit)
}

// ListMessages returns every message, newest first. limit <= 0 means no limit.
func (s *GormStore) ListMessages(limit int) ([]domain.Message, error) {
	return s.listMessages(s.db, limit)
}

func (s *GormStore) listMessages(tx *gorm.DB, limit int) ([]domain.Message, error) {
	tx = tx.Model(&MessageModel{}).
		Preload("User").
		Preload("Room").
		Order("messages.created_at DESC, messages.id DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var models []MessageModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}

// likePattern folds query and escapes LIKE wildcards. It is matched against
// fold columns, never against LOWER(col). ok is false when query is blank and
// no filter should be applied.
func likePattern(query string) (string, bool) {
	query = fold(strings.TrimSpace(query))
	if query == "" {
		return "", false
	}
	r := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return "%" + r.Replace(query) + "%", true
}

// conversion helpers
func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Bio:          u.Bio,
		AvatarKey:    u.AvatarKey,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Bio:          m.Bio,
		AvatarKey:    m.AvatarKey,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func topicFromModel(m TopicModel, roomCount int) domain.Topic {
	return domain.Topic{
		ID:        m.ID,
		Name:      m.Name,
		RoomCount: roomCount,
		CreatedAt: m.CreatedAt,
	}
}

func roomToModel(r domain.Room) RoomModel {
	return RoomModel{
		ID:              r.ID,
		HostID:          r.HostID,
		TopicID:         r.TopicID,
		Name:            r.Name,
		Description:     r.Description,
		NameFold:        fold(r.Name),
		DescriptionFold: fold(r.Description),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func roomFromModel(m RoomModel) domain.Room {
	return domain.Room{
		ID:          m.ID,
		HostID:      m.HostID,
		TopicID:     m.TopicID,
		Name:        m.Name,
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		Host:        userFromModel(m.Host),
		Topic:       topicFromModel(m.Topic, 0),
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:        msg.ID,
		UserID:    msg.UserID,
		RoomID:    msg.RoomID,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
		UpdatedAt: msg.UpdatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:        m.ID,
		UserID:    m.UserID,
		RoomID:    m.RoomID,
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Author:    userFromModel(m.User),
		RoomName:  m.Room.Name,
	}
}
