package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/MegaGrindStone/emofelix-web/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB archives settled conversations in a local BoltDB file. Each conversation record lives
// in the "conversations" bucket and its messages in a bucket of their own.
type BoltDB struct {
	db *bolt.DB
}

var conversationsBucket = []byte("conversations")

// NewBoltDB opens (or creates with 0600 permissions) the archive at path.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create buckets: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(conversationID string) []byte {
	return []byte(fmt.Sprintf("conversation-%s", conversationID))
}

// Conversations returns the user's archived conversations, newest first.
func (b BoltDB) Conversations(_ context.Context, userID int64) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).ForEach(func(_, v []byte) error {
			var conv models.Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
			if conv.UserID == userID {
				convs = append(convs, conv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(convs)
	return convs, nil
}

// Conversation returns one archived conversation, or ErrNotFound.
func (b BoltDB) Conversation(_ context.Context, id string) (models.Conversation, error) {
	var conv models.Conversation
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(conversationsBucket).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &conv)
	})
	if err != nil {
		return models.Conversation{}, fmt.Errorf("conversation %s: %w", id, err)
	}
	return conv, nil
}

// AddConversation stores conv with a sequence-prefixed ID, so keys sort in creation order,
// and returns that ID.
func (b BoltDB) AddConversation(_ context.Context, conv models.Conversation) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(conversationsBucket)

		seq, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%020d-%s", seq, conv.ID)
		conv.ID = newID

		if _, err := tx.CreateBucketIfNotExists(messageBucketName(newID)); err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		v, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}
		return bkt.Put([]byte(newID), v)
	})

	return newID, err
}

// Messages returns the archived messages of a conversation in the order they were added.
func (b BoltDB) Messages(_ context.Context, conversationID string) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(conversationID))
		if bkt == nil {
			return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
		}

		return bkt.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessage appends a settled message to a conversation.
func (b BoltDB) AddMessage(_ context.Context, conversationID string, message models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(conversationID))
		if bkt == nil {
			return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
		}

		seq, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bkt.Put([]byte(fmt.Sprintf("%020d", seq)), v)
	})
}
