package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"companion/pkg/domain"
	"companion/pkg/storage"
	"companion/pkg/store"
)

// Number of topics and recent messages shown beside the home page room list.
const (
	homeTopicLimit   = 5
	homeMessageLimit = 5
)

const defaultMaxUploadBytes = 2 << 20

var defaultAvatarExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

// Config holds runtime configuration for the forum core.
type Config struct {
	DatabaseDriver string
	DatabaseURL    string
	SessionSecret  string
	SessionTTL     time.Duration
	MediaDir       string
	MediaURL       string
	Minio          storage.MinioConfig

	// Avatar upload limits. Zero values fall back to defaults.
	MaxUploadBytes   int64
	AvatarExtensions []string

	// Redis backs sessions or token revocation when set.
	Redis *redis.Client

	// Pre-built dependencies, mainly for tests.
	Store    store.Store
	Sessions store.SessionStore
	Media    storage.ObjectStore
	Now      func() time.Time
}

// App is the forum core. Every operation takes the viewer explicitly; the
// zero domain.User is an anonymous visitor.
type App struct {
	store    store.Store
	sessions store.SessionStore
	media    storage.ObjectStore
	validate *validator.Validate
	now      func() time.Time
	closers  []func() error

	maxUploadBytes   int64
	avatarExtensions map[string]struct{}

	dummyHashOnce sync.Once
	dummyHash     string
}

// New constructs the application, opening storage and session backends
// that were not supplied.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 14 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if len(cfg.AvatarExtensions) == 0 {
		cfg.AvatarExtensions = defaultAvatarExtensions
	}
	a := &App{
		validate:         newValidator(),
		now:              cfg.Now,
		maxUploadBytes:   cfg.MaxUploadBytes,
		avatarExtensions: make(map[string]struct{}, len(cfg.AvatarExtensions)),
	}
	for _, ext := range cfg.AvatarExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		a.avatarExtensions[ext] = struct{}{}
	}

	a.store = cfg.Store
	if a.store == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		gormStore, err := store.NewGormStore(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init %s store: %w", cfg.DatabaseDriver, err)
		}
		a.store = gormStore
		a.closers = append(a.closers, gormStore.Close)
	}

	a.sessions = cfg.Sessions
	if a.sessions == nil {
		switch {
		case strings.TrimSpace(cfg.SessionSecret) != "":
			var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
			if cfg.Redis != nil {
				revoker = store.NewRedisTokenRevoker(cfg.Redis, "companion:revoked")
			} else {
				slog.Warn("session revocation is process-local; configure redisAddr for multi-instance logout")
			}
			jwtStore, err := store.NewJWTSessionStore(cfg.SessionSecret, cfg.SessionTTL, revoker, store.JWTOptions{})
			if err != nil {
				return nil, fmt.Errorf("init jwt session store: %w", err)
			}
			a.sessions = jwtStore
		case cfg.Redis != nil:
			a.sessions = store.NewRedisSessionStore(cfg.Redis, "companion:session", cfg.SessionTTL)
		default:
			return nil, fmt.Errorf("sessionSecret or redis is required for sessions")
		}
	}

	a.media = cfg.Media
	if a.media == nil {
		switch {
		case cfg.Minio.Endpoint != "":
			minioStore, err := storage.NewMinioStore(context.Background(), cfg.Minio)
			if err != nil {
				return nil, fmt.Errorf("init minio media store: %w", err)
			}
			a.media = minioStore
		case cfg.MediaDir != "":
			fileStore, err := storage.NewFileStore(cfg.MediaDir, cfg.MediaURL)
			if err != nil {
				return nil, fmt.Errorf("init file media store: %w", err)
			}
			a.media = fileStore
		}
	}
	return a, nil
}

// Close releases resources opened by New.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Media exposes the avatar store so the HTTP layer can mount local files.
func (a *App) Media() storage.ObjectStore {
	return a.media
}

// MaxUploadBytes is the largest avatar accepted by UpdateProfile.
func (a *App) MaxUploadBytes() int64 {
	return a.maxUploadBytes
}

// Authenticate resolves a session token to its user. ok is false for unknown,
// expired, or revoked tokens and for tokens whose user no longer exists.
func (a *App) Authenticate(token string) (domain.User, bool, error) {
	if strings.TrimSpace(token) == "" {
		return domain.User{}, false, nil
	}
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		// Invalid tokens are treated as anonymous rather than failing the page.
		return domain.User{}, false, nil
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("load session user: %w", err)
	}
	return user, ok, nil
}

// AvatarURL returns a browser URL for the user's avatar, or "" when none is set.
func (a *App) AvatarURL(ctx context.Context, u domain.User) string {
	if u.AvatarKey == "" || a.media == nil {
		return ""
	}
	url, err := a.media.URL(ctx, u.AvatarKey)
	if err != nil {
		slog.Warn("avatar url", "user_id", u.ID, "err", err)
		return ""
	}
	return url
}

func (a *App) newID() string {
	return uuid.NewString()
}

func (a *App) timestamp() time.Time {
	return a.now().UTC()
}

func requireViewer(viewer domain.User) error {
	if viewer.IsAnonymous() {
		return ErrUnauthenticated
	}
	return nil
}
