package storage

import (
	"errors"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
)

// Pebble is a Store backed by a local pebble database.
type Pebble struct {
	db   *pebble.DB
	path string
}

// OpenPebble opens (or creates) a pebble database at the given path.
func OpenPebble(path string) (*Pebble, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("pebble_opened", "path", path)
	return &Pebble{db: db, path: path}, nil
}

func (p *Pebble) GetItem(key string) ([]byte, error) {
	v, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, nil
}

func (p *Pebble) SetItem(key string, value []byte) error {
	return p.db.Set([]byte(key), value, pebble.Sync)
}

func (p *Pebble) RemoveItem(key string) error {
	return p.db.Delete([]byte(key), pebble.Sync)
}

// Flush forces outstanding writes to stable storage.
func (p *Pebble) Flush() error {
	return p.db.Flush()
}

func (p *Pebble) Close() error {
	if p.db == nil {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return err
	}
	p.db = nil
	logger.Info("pebble_closed", "path", p.path)
	return nil
}
