//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IMessageRepository interface {
	Append(message StoredMessage) (string, error)
	MarkDelivered(key string) error
	PendingFor(receiverID int64) ([]PendingMessage, error)
}

// StoredMessage is one row of the append-only message log. ReceiverID 0
// means the recipient name resolved to no known user; the row is kept
// anyway and can never be drained.
type StoredMessage struct {
	SenderID   int64  `json:"sender_id"`
	SenderName string `json:"sender_name"`
	ReceiverID int64  `json:"receiver_id"`
	Text       string `json:"text"`
	Delivered  bool   `json:"delivered"`
	At         int64  `json:"at"`
}

// PendingMessage is an undelivered row as seen by a draining session.
type PendingMessage struct {
	Key        string
	SenderName string
	Text       string
}

type MessageRepository struct {
	db *badger.DB
}

func NewMessageRepository(db *badger.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// messageKey builds "msg:{receiver}:{timestamp}:{uuid}". The 19-digit zero
// padding makes a receiver prefix scan yield rows in enqueue order, and the
// UUID disambiguates two rows landing on the same nanosecond.
func messageKey(receiverID int64, at time.Time) string {
	return fmt.Sprintf("msg:%019d:%019d:%s", receiverID, at.UnixNano(), uuid.New())
}

// Append persists one log row and returns its key. Rows are never deleted.
func (m *MessageRepository) Append(message StoredMessage) (string, error) {
	at := time.Now()
	if message.At == 0 {
		message.At = at.UnixNano()
	}
	key := messageKey(message.ReceiverID, at)

	data, err := json.Marshal(message)
	if err != nil {
		return "", err
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// MarkDelivered flips the delivered flag of one row. There is no cross-call
// transaction with PendingFor: a crash in between redelivers the row at the
// next login (at-least-once).
func (m *MessageRepository) MarkDelivered(key string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		var message StoredMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &message)
		}); err != nil {
			return err
		}
		message.Delivered = true
		data, err := json.Marshal(message)
		if err != nil {
			return err
		}
		return txn.Set([]byte(key), data)
	})
}

// PendingFor returns the undelivered rows addressed to receiverID, oldest
// first thanks to the padded timestamp in the key.
func (m *MessageRepository) PendingFor(receiverID int64) ([]PendingMessage, error) {
	var pending []PendingMessage
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(fmt.Sprintf("msg:%019d:", receiverID))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())
			var message StoredMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &message)
			}); err != nil {
				return err
			}
			if message.Delivered {
				continue
			}
			pending = append(pending, PendingMessage{
				Key:        key,
				SenderName: message.SenderName,
				Text:       message.Text,
			})
		}
		return nil
	})
	return pending, err
}
