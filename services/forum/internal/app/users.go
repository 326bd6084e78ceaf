package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"companion/pkg/auth"
	"companion/pkg/domain"
)

// ProfilePage is everything the public profile view shows.
type ProfilePage struct {
	User     domain.User
	Rooms    []domain.Room
	Topics   []domain.Topic
	Messages []domain.Message
}

// Login verifies credentials and opens a session. Unknown emails and wrong
// passwords both yield ErrInvalidCredentials.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = normalizeEmail(email)
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		auth.CheckPassword(password, a.getDummyHash())
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}

// getDummyHash returns a bcrypt hash compared against on unknown emails so
// both failure paths cost one bcrypt comparison.
func (a *App) getDummyHash() string {
	a.dummyHashOnce.Do(func() {
		hash, err := auth.HashPassword("companion-login-placeholder")
		if err != nil {
			slog.Error("dummy hash", "err", err)
			return
		}
		a.dummyHash = hash
	})
	return a.dummyHash
}

// Logout revokes token. An empty token is a no-op.
func (a *App) Logout(token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	if err := a.sessions.DeleteSession(token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Register creates an account and opens a session for it. Username and email
// are stored lowercase.
func (a *App) Register(form RegisterForm) (domain.User, string, error) {
	form.Name = strings.TrimSpace(form.Name)
	form.Username = normalizeUsername(form.Username)
	form.Email = normalizeEmail(form.Email)

	verr := a.validateForm(form)
	if verr == nil {
		verr = &ValidationError{}
	}
	if err := a.checkIdentityAvailable(verr, form.Username, form.Email); err != nil {
		return domain.User{}, "", err
	}
	if _, failed := verr.Fields["password2"]; !failed && form.Password1 != "" {
		if err := auth.ValidatePassword(form.Password1, form.Username); err != nil {
			verr.add("password2", passwordMessage(err))
		}
	}
	if !verr.empty() {
		return domain.User{}, "", verr
	}

	hash, err := auth.HashPassword(form.Password1)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := a.timestamp()
	user := domain.User{
		ID:           a.newID(),
		Name:         form.Name,
		Username:     form.Username,
		Email:        form.Email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}

// checkIdentityAvailable records field errors for a username or email that
// already belongs to another account. Empty values are skipped.
func (a *App) checkIdentityAvailable(verr *ValidationError, username, email string) error {
	if username != "" {
		taken, err := a.store.HasUsername(username)
		if err != nil {
			return fmt.Errorf("check username: %w", err)
		}
		if taken {
			verr.add("username", "A user with that username already exists.")
		}
	}
	if email != "" {
		taken, err := a.store.HasUserEmail(email)
		if err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if taken {
			verr.add("email", "User with this Email already exists.")
		}
	}
	return nil
}

func passwordMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrPasswordTooShort):
		return "This password is too short. It must contain at least 8 characters."
	case errors.Is(err, auth.ErrPasswordTooLong):
		return "This password is too long. It must contain at most 72 bytes."
	case errors.Is(err, auth.ErrPasswordNumeric):
		return "This password is entirely numeric."
	case errors.Is(err, auth.ErrPasswordCommon):
		return "This password is too common."
	case errors.Is(err, auth.ErrPasswordSimilar):
		return "The password is too similar to the username."
	default:
		return err.Error()
	}
}

// Profile loads the public profile of user id.
func (a *App) Profile(id string) (ProfilePage, error) {
	user, err := a.loadUser(id)
	if err != nil {
		return ProfilePage{}, err
	}
	rooms, err := a.store.ListRoomsByHost(user.ID)
	if err != nil {
		return ProfilePage{}, fmt.Errorf("list rooms: %w", err)
	}
	topics, err := a.store.ListTopics("", 0)
	if err != nil {
		return ProfilePage{}, fmt.Errorf("list topics: %w", err)
	}
	messages, err := a.store.ListMessagesByUser(user.ID)
	if err != nil {
		return ProfilePage{}, fmt.Errorf("list messages: %w", err)
	}
	return ProfilePage{User: user, Rooms: rooms, Topics: topics, Messages: messages}, nil
}

// UserForEdit returns user id for the edit form. Only that user may edit it.
func (a *App) UserForEdit(viewer domain.User, id string) (domain.User, error) {
	if err := requireViewer(viewer); err != nil {
		return domain.User{}, err
	}
	user, err := a.loadUser(id)
	if err != nil {
		return domain.User{}, err
	}
	if user.ID != viewer.ID {
		return domain.User{}, ErrForbidden
	}
	return user, nil
}

// UpdateProfile saves profile edits and an optional new avatar.
func (a *App) UpdateProfile(ctx context.Context, viewer domain.User, id string, form ProfileForm, avatar *Upload) (domain.User, error) {
	user, err := a.UserForEdit(viewer, id)
	if err != nil {
		return domain.User{}, err
	}
	form.Name = strings.TrimSpace(form.Name)
	form.Username = normalizeUsername(form.Username)
	form.Email = normalizeEmail(form.Email)
	form.Bio = strings.TrimSpace(form.Bio)

	verr := a.validateForm(form)
	if verr == nil {
		verr = &ValidationError{}
	}
	checkUsername, checkEmail := "", ""
	if form.Username != user.Username {
		checkUsername = form.Username
	}
	if form.Email != user.Email {
		checkEmail = form.Email
	}
	if err := a.checkIdentityAvailable(verr, checkUsername, checkEmail); err != nil {
		return domain.User{}, err
	}
	var ext string
	if avatar != nil {
		ext = a.checkAvatar(verr, avatar)
	}
	if !verr.empty() {
		return domain.User{}, verr
	}

	oldAvatar := user.AvatarKey
	if avatar != nil {
		if a.media == nil {
			return domain.User{}, ErrMediaUnavailable
		}
		key := path.Join("avatars", user.ID, a.newID()+ext)
		body := io.LimitReader(avatar.Body, a.maxUploadBytes)
		if err := a.media.Put(ctx, key, body, avatar.Size, avatar.ContentType); err != nil {
			return domain.User{}, fmt.Errorf("store avatar: %w", err)
		}
		user.AvatarKey = key
	}

	user.Name = form.Name
	user.Username = form.Username
	user.Email = form.Email
	user.Bio = form.Bio
	user.UpdatedAt = a.timestamp()
	if err := a.store.SaveUser(user); err != nil {
		if user.AvatarKey != oldAvatar {
			a.deleteMedia(ctx, user.AvatarKey)
		}
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	if oldAvatar != "" && oldAvatar != user.AvatarKey {
		a.deleteMedia(ctx, oldAvatar)
	}
	return user, nil
}

// checkAvatar validates the upload and returns its normalized extension.
func (a *App) checkAvatar(verr *ValidationError, avatar *Upload) string {
	ext := strings.ToLower(path.Ext(avatar.Filename))
	if _, ok := a.avatarExtensions[ext]; !ok {
		verr.add("avatar", "Upload a valid image. The file you uploaded was either not an image or a corrupted image.")
		return ""
	}
	if avatar.Size <= 0 {
		verr.add("avatar", "The submitted file is empty.")
		return ""
	}
	if avatar.Size > a.maxUploadBytes {
		verr.add("avatar", fmt.Sprintf("Ensure this file is at most %d bytes.", a.maxUploadBytes))
		return ""
	}
	return ext
}

func (a *App) deleteMedia(ctx context.Context, key string) {
	if a.media == nil || key == "" {
		return
	}
	if err := a.media.Delete(ctx, key); err != nil {
		slog.Warn("delete media", "key", key, "err", err)
	}
}

func (a *App) loadUser(id string) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
