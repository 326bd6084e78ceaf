package store

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"companion/pkg/domain"
)

// MemoryStore keeps forum data in-process. It mirrors GormStore's ordering
// and filtering so handlers can be exercised without a database.
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[string]domain.User // key: user ID
	topics       map[string]domain.Topic
	topicByName  map[string]string // name -> topic ID
	rooms        map[string]domain.Room
	messages     map[string]domain.Message
	participants map[string]map[string]time.Time // room ID -> user ID -> joined at
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]domain.User),
		topics:       make(map[string]domain.Topic),
		topicByName:  make(map[string]string),
		rooms:        make(map[string]domain.Room),
		messages:     make(map[string]domain.Message),
		participants: make(map[string]map[string]time.Time),
	}
}

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.users {
		if id == u.ID {
			continue
		}
		if existing.Email == u.Email || existing.Username == u.Username {
			return errors.New("unique constraint failed: users")
		}
	}
	if prev, ok := m.users[u.ID]; ok {
		u.CreatedAt = prev.CreatedAt
	}
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) HasUsername(username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetOrCreateTopic(name string, now time.Time) (domain.Topic, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Topic{}, errors.New("topic name required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.topicByName[name]; ok {
		return m.topics[id], nil
	}
	topic := domain.Topic{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now.UTC(),
	}
	m.topics[topic.ID] = topic
	m.topicByName[name] = topic.ID
	return topic, nil
}

func (m *MemoryStore) ListTopics(query string, limit int) ([]domain.Topic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, r := range m.rooms {
		counts[r.TopicID]++
	}
	res := make([]domain.Topic, 0, len(m.topics))
	for _, t := range m.topics {
		if !containsFold(t.Name, query) {
			continue
		}
		t.RoomCount = counts[t.ID]
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].Name < res[j].Name
	})
	return truncate(res, limit), nil
}

func (m *MemoryStore) SaveRoom(r domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[r.HostID]; !ok {
		return errors.New("room host does not exist")
	}
	if _, ok := m.topics[r.TopicID]; !ok {
		return errors.New("room topic does not exist")
	}
	if prev, ok := m.rooms[r.ID]; ok {
		r.HostID = prev.HostID
		r.CreatedAt = prev.CreatedAt
	}
	r.Host = domain.User{}
	r.Topic = domain.Topic{}
	r.ParticipantCount = 0
	m.rooms[r.ID] = r
	return nil
}

func (m *MemoryStore) GetRoom(id string) (domain.Room, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return domain.Room{}, false, nil
	}
	return m.hydrateRoom(r), true, nil
}

func (m *MemoryStore) SearchRooms(query string) ([]domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterRooms(func(r domain.Room) bool {
		return containsFold(r.Topic.Name, query) ||
			containsFold(r.Name, query) ||
			containsFold(r.Description, query) ||
			containsFold(r.Host.Username, query)
	}), nil
}

func (m *MemoryStore) ListRoomsByHost(hostID string) ([]domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterRooms(func(r domain.Room) bool { return r.HostID == hostID }), nil
}

func (m *MemoryStore) filterRooms(keep func(domain.Room) bool) []domain.Room {
	res := make([]domain.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		r = m.hydrateRoom(r)
		if keep(r) {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].UpdatedAt.Equal(res[j].UpdatedAt) {
			return res[i].UpdatedAt.After(res[j].UpdatedAt)
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res
}

func (m *MemoryStore) hydrateRoom(r domain.Room) domain.Room {
	r.Host = m.users[r.HostID]
	r.Topic = m.topics[r.TopicID]
	r.ParticipantCount = len(m.participants[r.ID])
	return r
}

func (m *MemoryStore) DeleteRoom(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for msgID, msg := range m.messages {
		if msg.RoomID == id {
			delete(m.messages, msgID)
		}
	}
	delete(m.participants, id)
	delete(m.rooms, id)
	return nil
}

func (m *MemoryStore) AddParticipant(roomID, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.participants[roomID]
	if !ok {
		set = make(map[string]time.Time)
		m.participants[roomID] = set
	}
	if _, exists := set[userID]; !exists {
		set[userID] = at.UTC()
	}
	return nil
}

func (m *MemoryStore) ListParticipants(roomID string) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.participants[roomID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return set[ids[i]].Before(set[ids[j]]) })
	res := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			res = append(res, u)
		}
	}
	return res, nil
}

func (m *MemoryStore) AppendMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[msg.UserID]; !ok {
		return errors.New("message author does not exist")
	}
	if _, ok := m.rooms[msg.RoomID]; !ok {
		return errors.New("message room does not exist")
	}
	msg.Author = domain.User{}
	msg.RoomName = ""
	m.messages[msg.ID] = msg
	return nil
}

func (m *MemoryStore) GetMessage(id string) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return domain.Message{}, false, nil
	}
	return m.hydrateMessage(msg), true, nil
}

func (m *MemoryStore) DeleteMessage(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) ListMessagesByRoom(roomID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterMessages(func(msg domain.Message) bool { return msg.RoomID == roomID }, 0), nil
}

func (m *MemoryStore) ListMessagesByUser(userID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterMessages(func(msg domain.Message) bool { return msg.UserID == userID }, 0), nil
}

func (m *MemoryStore) ListMessagesByTopic(query string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterMessages(func(msg domain.Message) bool {
		room := m.rooms[msg.RoomID]
		return containsFold(m.topics[room.TopicID].Name, query)
	}, limit), nil
}

func (m *MemoryStore) ListMessages(limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterMessages(func(domain.Message) bool { return true }, limit), nil
}

func (m *MemoryStore) filterMessages(keep func(domain.Message) bool, limit int) []domain.Message {
	res := make([]domain.Message, 0)
	for _, msg := range m.messages {
		if keep(msg) {
			res = append(res, m.hydrateMessage(msg))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return truncate(res, limit)
}

func (m *MemoryStore) hydrateMessage(msg domain.Message) domain.Message {
	msg.Author = m.users[msg.UserID]
	msg.RoomName = m.rooms[msg.RoomID].Name
	return msg
}

// containsFold reports whether query is a case-insensitive substring of s.
// A blank query matches everything.
func containsFold(s, query string) bool {
	query = fold(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	return strings.Contains(fold(s), query)
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
