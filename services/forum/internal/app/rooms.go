package app

import (
	"fmt"
	"strings"

	"companion/pkg/domain"
)

// HomePage is the room browser with its topic and activity sidebars.
type HomePage struct {
	Query     string
	Rooms     []domain.Room
	RoomCount int
	Topics    []domain.Topic
	Messages  []domain.Message
}

// RoomPage is one room with its conversation.
type RoomPage struct {
	Room         domain.Room
	Messages     []domain.Message
	Participants []domain.User
}

// Home lists rooms matching q against topic name, room name, description, or
// host username. The sidebars show the first topics overall and the latest
// messages in rooms whose topic matches q.
func (a *App) Home(q string) (HomePage, error) {
	q = strings.TrimSpace(q)
	rooms, err := a.store.SearchRooms(q)
	if err != nil {
		return HomePage{}, fmt.Errorf("search rooms: %w", err)
	}
	topics, err := a.store.ListTopics("", homeTopicLimit)
	if err != nil {
		return HomePage{}, fmt.Errorf("list topics: %w", err)
	}
	messages, err := a.store.ListMessagesByTopic(q, homeMessageLimit)
	if err != nil {
		return HomePage{}, fmt.Errorf("list messages: %w", err)
	}
	return HomePage{
		Query:     q,
		Rooms:     rooms,
		RoomCount: len(rooms),
		Topics:    topics,
		Messages:  messages,
	}, nil
}

// Room loads room id with its messages and participants.
func (a *App) Room(id string) (RoomPage, error) {
	room, err := a.loadRoom(id)
	if err != nil {
		return RoomPage{}, err
	}
	messages, err := a.store.ListMessagesByRoom(room.ID)
	if err != nil {
		return RoomPage{}, fmt.Errorf("list messages: %w", err)
	}
	participants, err := a.store.ListParticipants(room.ID)
	if err != nil {
		return RoomPage{}, fmt.Errorf("list participants: %w", err)
	}
	return RoomPage{Room: room, Messages: messages, Participants: participants}, nil
}

// GetRoom returns a single room for the JSON API.
func (a *App) GetRoom(id string) (domain.Room, error) {
	return a.loadRoom(id)
}

// Rooms lists every room, most recently updated first.
func (a *App) Rooms() ([]domain.Room, error) {
	rooms, err := a.store.SearchRooms("")
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// Topics lists topics whose name contains q, with room counts.
func (a *App) Topics(q string) ([]domain.Topic, error) {
	topics, err := a.store.ListTopics(strings.TrimSpace(q), 0)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return topics, nil
}

// CreateRoom opens a room hosted by viewer, creating its topic on first use.
func (a *App) CreateRoom(viewer domain.User, form RoomForm) (domain.Room, error) {
	if err := requireViewer(viewer); err != nil {
		return domain.Room{}, err
	}
	form = trimRoomForm(form)
	if verr := a.validateForm(form); verr != nil {
		return domain.Room{}, verr
	}
	now := a.timestamp()
	topic, err := a.store.GetOrCreateTopic(form.Topic, now)
	if err != nil {
		return domain.Room{}, fmt.Errorf("find or create topic: %w", err)
	}
	room := domain.Room{
		ID:          a.newID(),
		HostID:      viewer.ID,
		TopicID:     topic.ID,
		Name:        form.Name,
		Description: form.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveRoom(room); err != nil {
		return domain.Room{}, fmt.Errorf("save room: %w", err)
	}
	room.Host = viewer
	room.Topic = topic
	return room, nil
}

// RoomForEdit returns room id for its host. Anyone else gets ErrForbidden.
func (a *App) RoomForEdit(viewer domain.User, id string) (domain.Room, error) {
	if err := requireViewer(viewer); err != nil {
		return domain.Room{}, err
	}
	room, err := a.loadRoom(id)
	if err != nil {
		return domain.Room{}, err
	}
	if room.HostID != viewer.ID {
		return domain.Room{}, ErrForbidden
	}
	return room, nil
}

// UpdateRoom changes the topic, name, and description of a room the viewer hosts.
func (a *App) UpdateRoom(viewer domain.User, id string, form RoomForm) (domain.Room, error) {
	room, err := a.RoomForEdit(viewer, id)
	if err != nil {
		return domain.Room{}, err
	}
	form = trimRoomForm(form)
	if verr := a.validateForm(form); verr != nil {
		return domain.Room{}, verr
	}
	now := a.timestamp()
	topic, err := a.store.GetOrCreateTopic(form.Topic, now)
	if err != nil {
		return domain.Room{}, fmt.Errorf("find or create topic: %w", err)
	}
	room.TopicID = topic.ID
	room.Topic = topic
	room.Name = form.Name
	room.Description = form.Description
	room.UpdatedAt = now
	if err := a.store.SaveRoom(room); err != nil {
		return domain.Room{}, fmt.Errorf("save room: %w", err)
	}
	return room, nil
}

// DeleteRoom removes a room the viewer hosts along with its messages.
func (a *App) DeleteRoom(viewer domain.User, id string) error {
	room, err := a.RoomForEdit(viewer, id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteRoom(room.ID); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

func (a *App) loadRoom(id string) (domain.Room, error) {
	room, ok, err := a.store.GetRoom(id)
	if err != nil {
		return domain.Room{}, fmt.Errorf("fetch room: %w", err)
	}
	if !ok {
		return domain.Room{}, ErrNotFound
	}
	return room, nil
}

func trimRoomForm(form RoomForm) RoomForm {
	form.Topic = strings.TrimSpace(form.Topic)
	form.Name = strings.TrimSpace(form.Name)
	form.Description = strings.TrimSpace(form.Description)
	return form
}
