/*
Package ircache stores compiled effects between sessions.

Artifacts are written by their compiler to <dir>/<effect name>. Alongside,
an embedded badger index keeps the build configuration of every entry, so
a recalled session can tell whether a cached artifact still matches the
effect it's restored for.
*/
package ircache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/pipelined/livefx/log"
)

const (
	indexDir  = ".index"
	keyPrefix = "ir/"
)

// ErrInvalidName is returned for effect names that can't be used as file
// names inside the cache directory.
var ErrInvalidName = errors.New("invalid effect name")

// CheckName returns ErrInvalidName if name is empty, hidden or contains a
// path separator.
func CheckName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Entry describes a cached artifact.
type Entry struct {
	Name     string    `json:"name"`
	Options  []string  `json:"options"`
	OptLevel int       `json:"opt_level"`
	BuiltAt  time.Time `json:"built_at"`
}

// Matches reports whether entry was built with provided configuration.
func (e Entry) Matches(options []string, optLevel int) bool {
	if e.OptLevel != optLevel || len(e.Options) != len(options) {
		return false
	}
	for i := range options {
		if e.Options[i] != options[i] {
			return false
		}
	}
	return true
}

// Cache is an IR cache directory with its index.
type Cache struct {
	dir string
	db  *badger.DB
}

type config struct {
	inMemory bool
	logger   *logrus.Logger
}

// Option configures cache.
type Option func(*config)

// InMemory keeps the index in memory. Useful for tests.
func InMemory() Option {
	return func(c *config) {
		c.inMemory = true
	}
}

// Open opens or creates cache in dir.
func Open(dir string, options ...Option) (*Cache, error) {
	c := config{logger: log.GetLogger()}
	for _, option := range options {
		option(&c)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	var opts badger.Options
	if c.inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Join(dir, indexDir))
	}
	opts = opts.WithLogger(c.logger).WithNumVersionsToKeep(1)
	if !c.logger.IsLevelEnabled(logrus.DebugLevel) {
		opts = opts.WithLoggingLevel(badger.WARNING)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}
	return &Cache{dir: dir, db: db}, nil
}

// Dir returns cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns the artifact path of the named effect.
func (c *Cache) Path(name string) (string, error) {
	if err := CheckName(name); err != nil {
		return "", err
	}
	return filepath.Join(c.dir, name), nil
}

// Put stores the entry.
func (c *Cache) Put(e Entry) error {
	if err := CheckName(e.Name); err != nil {
		return err
	}
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+e.Name), value)
	})
}

// Get returns the entry of the named effect. The entry is only returned
// if its artifact file exists.
func (c *Cache) Get(name string) (Entry, bool, error) {
	path, err := c.Path(name)
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + name))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if _, err := os.Stat(path); err != nil {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Delete removes the entry and its artifact.
func (c *Cache) Delete(name string) error {
	path, err := c.Path(name)
	if err != nil {
		return err
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + name))
	})
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Names returns names of all indexed effects.
func (c *Cache) Names() ([]string, error) {
	var names []string
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(keyPrefix):]))
		}
		return nil
	})
	return names, err
}

// Close closes the index.
func (c *Cache) Close() error {
	return c.db.Close()
}
