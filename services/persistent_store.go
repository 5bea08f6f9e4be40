package services

import "time"

// StoredEntry is a cache entry as held by the durable tier. The value is the
// serialized JSON payload written by the cache layer.
type StoredEntry struct {
	Key       string    `json:"key" bson:"_id"`
	Value     []byte    `json:"value" bson:"value"`
	Category  string    `json:"category,omitempty" bson:"category,omitempty"`
	Tags      []string  `json:"tags,omitempty" bson:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
}

// PersistentStore is the durable cache tier. Implementations must tolerate
// concurrent use; callers treat every error as "entry missing".
type PersistentStore interface {
	Put(entry StoredEntry) error
	Get(key string) (*StoredEntry, error)
	Delete(key string) error
	DeleteByCategory(category string) (int64, error)
	DeleteByTag(tag string) (int64, error)
	PurgeExpired() (int64, error)
	Close() error
}
