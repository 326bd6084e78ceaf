package app

import (
	"fmt"
	"strings"

	"companion/pkg/domain"
)

const maxMessageBody = 10000

// PostMessage appends body to room roomID as viewer and records viewer as a
// participant.
func (a *App) PostMessage(viewer domain.User, roomID, body string) (domain.Message, error) {
	if err := requireViewer(viewer); err != nil {
		return domain.Message{}, err
	}
	room, err := a.loadRoom(roomID)
	if err != nil {
		return domain.Message{}, err
	}
	body = strings.TrimSpace(body)
	switch {
	case body == "":
		return domain.Message{}, &ValidationError{Fields: map[string]string{"body": "This field is required."}}
	case len([]rune(body)) > maxMessageBody:
		return domain.Message{}, &ValidationError{Fields: map[string]string{
			"body": fmt.Sprintf("Ensure this value has at most %d characters.", maxMessageBody),
		}}
	}
	now := a.timestamp()
	msg := domain.Message{
		ID:        a.newID(),
		UserID:    viewer.ID,
		RoomID:    room.ID,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.AppendMessage(msg); err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	if err := a.store.AddParticipant(room.ID, viewer.ID, now); err != nil {
		return domain.Message{}, fmt.Errorf("add participant: %w", err)
	}
	msg.Author = viewer
	msg.RoomName = room.Name
	return msg, nil
}

// MessageForDelete returns message id for its author. Anyone else gets ErrForbidden.
func (a *App) MessageForDelete(viewer domain.User, id string) (domain.Message, error) {
	if err := requireViewer(viewer); err != nil {
		return domain.Message{}, err
	}
	msg, ok, err := a.store.GetMessage(id)
	if err != nil {
		return domain.Message{}, fmt.Errorf("fetch message: %w", err)
	}
	if !ok {
		return domain.Message{}, ErrNotFound
	}
	if msg.UserID != viewer.ID {
		return domain.Message{}, ErrForbidden
	}
	return msg, nil
}

// DeleteMessage removes a message the viewer wrote.
func (a *App) DeleteMessage(viewer domain.User, id string) error {
	msg, err := a.MessageForDelete(viewer, id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteMessage(msg.ID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Activity lists every message, newest first.
func (a *App) Activity() ([]domain.Message, error) {
	messages, err := a.store.ListMessages(0)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}
