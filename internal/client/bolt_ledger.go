package client

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltLedger keeps pending messages on disk so they are replayed after the
// client restarts. Each session credential gets its own bucket.
type BoltLedger struct {
	db     *bolt.DB
	bucket []byte
}

// OpenBoltLedger opens (creating if needed) the ledger file at path and the
// bucket for token.
func OpenBoltLedger(path, token string) (*BoltLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	l := &BoltLedger{db: db, bucket: bucketFor(token)}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(l.bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// bucketFor hashes the credential; tokens are long and should not sit on
// disk in the clear.
func bucketFor(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return []byte("pending:" + hex.EncodeToString(sum[:16]))
}

func (l *BoltLedger) Put(p PendingMessage) error {
	enc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(l.bucket).Put([]byte(p.ClientMessageID), enc)
	})
}

func (l *BoltLedger) Get(id string) (PendingMessage, bool, error) {
	var (
		p     PendingMessage
		found bool
	)
	err := l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(l.bucket).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &p)
	})
	return p, found, err
}

func (l *BoltLedger) Delete(id string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(l.bucket).Delete([]byte(id))
	})
}

func (l *BoltLedger) List() ([]PendingMessage, error) {
	out := []PendingMessage{}
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(l.bucket).ForEach(func(_, v []byte) error {
			var p PendingMessage
			if err := json.Unmarshal(v, &p); err != nil {
				// Skip malformed entries instead of failing the whole load
				return nil
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortPending(out)
	return out, nil
}

// Close releases the file lock.
func (l *BoltLedger) Close() error { return l.db.Close() }
