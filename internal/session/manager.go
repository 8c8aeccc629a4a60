package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	cookieName = "shopaway_session"
	// lifetime is sliding: every Save pushes expiry out again.
	lifetime = 7 * 24 * time.Hour
)

// ErrNoSession is returned when the request carries no cookie or the cookie
// points at a session the store no longer has.
var ErrNoSession = errors.New("no session")

// Store persists session data by id. Implementations hand out copies, so a
// caller mutating loaded data never changes what is stored until Set.
type Store interface {
	Get(ctx context.Context, id string) (*Data, bool)
	Set(ctx context.Context, id string, data *Data, ttl time.Duration)
	Delete(ctx context.Context, id string)
	Close() error
}

type Manager struct {
	store  Store
	secure bool
}

func NewManager(store Store, secure bool) *Manager {
	return &Manager{store: store, secure: secure}
}

func (m *Manager) Close() error {
	if m == nil || m.store == nil {
		return nil
	}
	return m.store.Close()
}

// GetSession loads the session referenced by the request cookie.
func (m *Manager) GetSession(ctx context.Context, r *http.Request) (*Data, error) {
	id, ok := sessionID(r)
	if !ok {
		return nil, ErrNoSession
	}
	data, found := m.store.Get(ctx, id)
	if !found {
		return nil, ErrNoSession
	}
	return data, nil
}

// Load is GetSession with empty data in place of ErrNoSession.
func (m *Manager) Load(ctx context.Context, r *http.Request) *Data {
	if data, err := m.GetSession(ctx, r); err == nil && data != nil {
		return data
	}
	return &Data{}
}

// Save writes data under the request's live session. When there is none a
// new session is created and its cookie set on w.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, r *http.Request, data *Data) error {
	if data == nil {
		return fmt.Errorf("session data is required")
	}
	if id, ok := sessionID(r); ok {
		if _, live := m.store.Get(ctx, id); live {
			m.store.Set(ctx, id, data, lifetime)
			return nil
		}
	}
	_, err := m.CreateSession(ctx, w, data)
	return err
}

// CreateSession stores data under a fresh id and sets the session cookie.
func (m *Manager) CreateSession(ctx context.Context, w http.ResponseWriter, data *Data) (string, error) {
	if data == nil {
		return "", fmt.Errorf("session data is required")
	}
	stored := data.clone()
	stored.CreatedAt = time.Now().Unix()

	id := uuid.NewString()
	m.store.Set(ctx, id, stored, lifetime)
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(lifetime / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id, nil
}

func sessionID(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
