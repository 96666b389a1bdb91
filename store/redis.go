package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solvein/authcore"
)

// Redis is an [authcore.UserStore] keeping user records as JSON values with
// a separate email index key. The security swap runs under WATCH so a
// concurrent write to the same record aborts the transaction instead of
// losing an update.
type Redis struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis creates a Redis-backed store. An empty prefix defaults to "ac".
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "ac"
	}
	return &Redis{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

type redisUser struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	CredentialDigest string     `json:"credential_digest"`
	IsActive         bool       `json:"is_active"`
	FailedAttempts   int        `json:"failed_attempts"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
	LastAttemptAt    *time.Time `json:"last_attempt_at,omitempty"`
}

func (r *Redis) userKey(id string) string {
	return r.prefix + ":user:" + id
}

func (r *Redis) emailKey(email string) string {
	return r.prefix + ":email:" + email
}

func (r *Redis) FindByEmail(ctx context.Context, email string) (authcore.UserRecord, error) {
	id, err := r.client.Get(ctx, r.emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return authcore.UserRecord{}, authcore.ErrUserNotFound
		}
		return authcore.UserRecord{}, err
	}

	return r.FindByID(ctx, id)
}

func (r *Redis) FindByID(ctx context.Context, id string) (authcore.UserRecord, error) {
	data, err := r.client.Get(ctx, r.userKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return authcore.UserRecord{}, authcore.ErrUserNotFound
		}
		return authcore.UserRecord{}, err
	}

	var user redisUser
	if err := json.Unmarshal(data, &user); err != nil {
		return authcore.UserRecord{}, err
	}

	return toRecord(user), nil
}

func (r *Redis) Insert(ctx context.Context, user authcore.UserRecord) error {
	data, err := json.Marshal(fromRecord(user))
	if err != nil {
		return err
	}

	// The email index is the uniqueness gate; claiming it first makes
	// concurrent inserts of the same email lose cleanly.
	set, err := r.client.SetNX(ctx, r.emailKey(user.Email), user.ID, 0).Result()
	if err != nil {
		return err
	}
	if !set {
		return authcore.ErrEmailTaken
	}

	if err := r.client.Set(ctx, r.userKey(user.ID), data, 0).Err(); err != nil {
		// roll the index claim back so the email is not orphaned
		_ = r.client.Del(ctx, r.emailKey(user.Email)).Err()
		return err
	}

	return nil
}

var errCASMismatch = errors.New("security state mismatch")

func (r *Redis) CompareAndSwapSecurity(ctx context.Context, id string, expected, next authcore.SecurityState) (bool, error) {
	key := r.userKey(id)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return authcore.ErrUserNotFound
			}
			return err
		}

		var user redisUser
		if err := json.Unmarshal(data, &user); err != nil {
			return err
		}

		if user.FailedAttempts != expected.FailedAttempts || !sameInstant(user.LockedUntil, expected.LockedUntil) {
			return errCASMismatch
		}

		now := r.now()
		user.FailedAttempts = next.FailedAttempts
		user.LockedUntil = next.LockedUntil
		user.LastAttemptAt = &now

		updated, err := json.Marshal(user)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, redis.KeepTTL)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errCASMismatch):
		return false, nil
	case errors.Is(err, redis.TxFailedErr):
		// another writer touched the record mid-transaction
		return false, nil
	default:
		return false, err
	}
}

func toRecord(u redisUser) authcore.UserRecord {
	return authcore.UserRecord{
		ID:               u.ID,
		Email:            u.Email,
		CredentialDigest: u.CredentialDigest,
		IsActive:         u.IsActive,
		FailedAttempts:   u.FailedAttempts,
		LockedUntil:      u.LockedUntil,
		LastAttemptAt:    u.LastAttemptAt,
	}
}

func fromRecord(u authcore.UserRecord) redisUser {
	return redisUser{
		ID:               u.ID,
		Email:            u.Email,
		CredentialDigest: u.CredentialDigest,
		IsActive:         u.IsActive,
		FailedAttempts:   u.FailedAttempts,
		LockedUntil:      u.LockedUntil,
		LastAttemptAt:    u.LastAttemptAt,
	}
}
