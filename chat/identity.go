package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// GuestPrefix starts every generated anonymous user id.
const GuestPrefix = "guest-"

// Identity is who a customer chats as.
type Identity struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Anonymous bool   `json:"anonymous"`
}

// ErrNoIdentity is returned by an IdentityStore that has nothing saved.
var ErrNoIdentity = errors.New("chat: no stored identity")

// IdentityStore persists the anonymous identity between runs so that a
// returning guest resumes the same conversation.
type IdentityStore interface {
	Load(ctx context.Context) (Identity, error)
	Save(ctx context.Context, id Identity) error
}

// ResolveIdentity returns the identity to connect with. An authenticated
// user id wins and is never persisted. Otherwise the stored guest identity
// is reused, or a new one is generated and saved.
func ResolveIdentity(ctx context.Context, store IdentityStore, authUserID, name string) (Identity, error) {
	if authUserID != "" {
		return Identity{UserID: authUserID, Name: name}, nil
	}

	id, err := store.Load(ctx)
	switch {
	case err == nil && id.UserID != "":
		if name != "" && name != id.Name {
			id.Name = name
			if err := store.Save(ctx, id); err != nil {
				return Identity{}, err
			}
		}
		return id, nil
	case err != nil && !errors.Is(err, ErrNoIdentity):
		return Identity{}, err
	}

	if name == "" {
		name = "Guest"
	}
	id = Identity{UserID: GuestPrefix + uuid.NewString(), Name: name, Anonymous: true}
	if err := store.Save(ctx, id); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// FileStore keeps the identity as JSON in a local file.
type FileStore struct {
	Path string
}

func (s FileStore) Load(_ context.Context) (Identity, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Identity{}, ErrNoIdentity
	}
	if err != nil {
		return Identity{}, fmt.Errorf("read identity: %w", err)
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return Identity{}, fmt.Errorf("decode identity %s: %w", s.Path, err)
	}
	return id, nil
}

func (s FileStore) Save(_ context.Context, id Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return os.Rename(tmp, s.Path)
}

// RedisStore keeps the identity under one Redis key, for clients that run
// without a writable disk.
type RedisStore struct {
	Client *redis.Client
	Key    string
}

func (s RedisStore) Load(ctx context.Context) (Identity, error) {
	data, err := s.Client.Get(ctx, s.Key).Bytes()
	if err == redis.Nil {
		return Identity{}, ErrNoIdentity
	}
	if err != nil {
		return Identity{}, fmt.Errorf("load identity: %w", err)
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return Identity{}, fmt.Errorf("decode identity %s: %w", s.Key, err)
	}
	return id, nil
}

func (s RedisStore) Save(ctx context.Context, id Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return s.Client.Set(ctx, s.Key, data, 0).Err()
}
