//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"chat-relay/auth"
	"chat-relay/errors"

	"github.com/dgraph-io/badger/v4"
)

type IUserRepository interface {
	CreateUser(name, secret string) (int64, error)
	Authenticate(name, secret string) (int64, error)
	Exists(name string) (int64, bool, error)
	ListUsernames() ([]string, error)
}

const (
	userPrefix   = "user:"
	userIDSeqKey = "seq:user"
)

type UserRepository struct {
	db  *badger.DB
	seq *badger.Sequence
}

// NewUserRepository opens the numeric id sequence backing user creation.
// Ids start at 1: id 0 marks an unresolved receiver in the message log.
func NewUserRepository(db *badger.DB) (*UserRepository, error) {
	seq, err := db.GetSequence([]byte(userIDSeqKey), 100)
	if err != nil {
		return nil, fmt.Errorf("user id sequence: %w", err)
	}
	return &UserRepository{db: db, seq: seq}, nil
}

// Close releases unused ids back to the sequence.
func (u *UserRepository) Close() error {
	return u.seq.Release()
}

// userRecord is the stored shape of a credential record. The plain secret
// never reaches the database, only its Argon2id hash.
type userRecord struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	SecretHash string `json:"secret_hash"`
	CreatedAt  int64  `json:"created_at"`
}

// CreateUser registers a new credential record and returns its numeric id.
// Returns ErrUserAlreadyExists when the name is taken.
func (u *UserRepository) CreateUser(name, secret string) (int64, error) {
	hash, err := auth.HashPassword(secret)
	if err != nil {
		return 0, fmt.Errorf("hashing failed: %w", err)
	}

	next, err := u.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("id allocation failed: %w", err)
	}
	id := int64(next) + 1

	record := userRecord{
		ID:         id,
		Name:       name,
		SecretHash: hash,
		CreatedAt:  time.Now().Unix(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return 0, err
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		key := []byte(userPrefix + name)
		if _, err := txn.Get(key); err == nil {
			return errors.ErrUserAlreadyExists
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Authenticate verifies name/secret and returns the user's id. A missing
// name and a wrong secret are indistinguishable to the caller.
func (u *UserRepository) Authenticate(name, secret string) (int64, error) {
	record, err := u.get(name)
	if err != nil {
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return 0, errors.ErrUnknownUser
		}
		return 0, err
	}

	match, err := auth.ComparePassword(secret, record.SecretHash)
	if err != nil {
		return 0, err
	}
	if !match {
		return 0, errors.ErrUnknownUser
	}
	return record.ID, nil
}

// Exists reports whether a username is registered, and its id when it is.
func (u *UserRepository) Exists(name string) (int64, bool, error) {
	record, err := u.get(name)
	if err != nil {
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return record.ID, true, nil
}

// ListUsernames returns every registered username. Names live in the key
// suffix, so the scan never touches values.
func (u *UserRepository) ListUsernames() ([]string, error) {
	var names []string
	err := u.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		prefix := []byte(userPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			names = append(names, strings.TrimPrefix(key, userPrefix))
		}
		return nil
	})
	return names, err
}

func (u *UserRepository) get(name string) (userRecord, error) {
	var record userRecord
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userPrefix + name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	return record, err
}
