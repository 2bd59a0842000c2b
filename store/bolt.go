package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	"go.etcd.io/bbolt"
)

const boltOpenTimeout = 3 * time.Second

// BoltStore implements IDocStore on a single bbolt file.
// bbolt allows one writer at a time, which gives per-key (in fact
// per-database) serialization of Create and Update.
type BoltStore struct {
	db *bbolt.DB
}

func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("bolt: create dir: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range Buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: create buckets: %w", err)
	}

	glog.Infof("bolt store opened: %s", path)
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) bucket(tx *bbolt.Tx, name Bucket) (*bbolt.Bucket, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("bolt: unknown bucket `%s`", name)
	}
	return b, nil
}

func (s *BoltStore) Get(ctx context.Context, bucket Bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := s.bucket(tx, bucket)
		if err != nil {
			return err
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// v is only valid inside the transaction.
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Create(ctx context.Context, bucket Bucket, key string, doc []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var created bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := s.bucket(tx, bucket)
		if err != nil {
			return err
		}
		if b.Get([]byte(key)) != nil {
			return nil
		}
		if err := b.Put([]byte(key), doc); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		glog.Errorf("bolt: create %s/%s error: %v", bucket, key, err)
		return false, err
	}
	return created, nil
}

func (s *BoltStore) Update(ctx context.Context, bucket Bucket, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := s.bucket(tx, bucket)
		if err != nil {
			return err
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		doc, err := fn(append([]byte(nil), v...))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), doc)
	})
	if errors.Is(err, ErrSkipWrite) {
		return nil
	}
	return err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
