package store

import (
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/inlinesoft/whatsdesk/internal/accounts"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var snapshotBucket = []byte("account_snapshots")

// BoltStore persists per-user account snapshots in a local bbolt file so the
// agent can serve last-known state immediately after restart.
type BoltStore struct {
	db *bolt.DB
}

var _ accounts.SnapshotStore = (*BoltStore)(nil)

// NewBoltStore opens (or creates) the snapshot database under dir.
func NewBoltStore(dir string) (*BoltStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create data dir")
	}
	db, err := bolt.Open(filepath.Join(dir, "whatsdesk.db"), 0o600, &bolt.Options{
		Timeout: 2 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open snapshot db")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init snapshot bucket")
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

type snapshotRecord struct {
	FetchedAt time.Time          `json:"fetched_at"`
	Accounts  []accounts.Account `json:"accounts"`
}

// Save overwrites the user's snapshot.
func (s *BoltStore) Save(userID string, accts []accounts.Account, fetchedAt time.Time) error {
	raw, err := json.Marshal(snapshotRecord{FetchedAt: fetchedAt, Accounts: accts})
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put([]byte(userID), raw)
	})
}

// Load returns the user's last snapshot and when it was fetched.
func (s *BoltStore) Load(userID string) ([]accounts.Account, time.Time, error) {
	var rec snapshotRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(snapshotBucket).Get([]byte(userID))
		if raw == nil {
			return errors.New("no snapshot")
		}
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return rec.Accounts, rec.FetchedAt, nil
}
