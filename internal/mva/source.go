package mva

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Source yields the full set of MVA entries from a configuration backend.
type Source interface {
	Name() string
	Entries(ctx context.Context) ([]Entry, error)
}

// StaticSource serves a fixed list of entries.
type StaticSource []Entry

// Name implements Source.
func (StaticSource) Name() string { return "static" }

// Entries implements Source.
func (s StaticSource) Entries(context.Context) ([]Entry, error) {
	return append([]Entry(nil), s...), nil
}

// fileEntry mirrors one item of the "mva" list in a configuration file.
// Percent is decoded as a string so values like 71.78 keep their exact decimal form.
type fileEntry struct {
	Product     string `mapstructure:"product"`
	Origin      string `mapstructure:"origin"`
	Destination string `mapstructure:"destination"`
	Percent     string `mapstructure:"percent"`
	Description string `mapstructure:"description"`
}

// FileSource reads entries from a YAML, JSON or TOML file under the "mva" key:
//
//	mva:
//	  - product: "2309.10.00"
//	    origin: SP
//	    destination: RJ
//	    percent: "40"
type FileSource struct {
	path string
	mu   sync.Mutex
	v    *viper.Viper
}

// NewFileSource prepares a source for path. The file is read on every Entries call.
func NewFileSource(path string) (*FileSource, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("mva: file path is required")
	}
	v := viper.New()
	v.SetConfigFile(path)
	return &FileSource{path: path, v: v}, nil
}

// Name implements Source.
func (s *FileSource) Name() string { return "file" }

// Path returns the configured file path.
func (s *FileSource) Path() string { return s.path }

// Entries implements Source.
func (s *FileSource) Entries(context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("mva: read %s: %w", s.path, err)
	}
	var raw []fileEntry
	if err := s.v.UnmarshalKey("mva", &raw); err != nil {
		return nil, fmt.Errorf("mva: decode %s: %w", s.path, err)
	}
	entries := make([]Entry, 0, len(raw))
	for i, r := range raw {
		pct, err := decimal.NewFromString(strings.TrimSpace(r.Percent))
		if err != nil {
			return nil, fmt.Errorf("mva: %s entry %d: invalid percent %q: %w", s.path, i, r.Percent, err)
		}
		entries = append(entries, Entry{
			Key:         NewKey(r.Product, r.Origin, r.Destination),
			Percent:     pct,
			Description: strings.TrimSpace(r.Description),
		})
	}
	return entries, nil
}

// Watch calls onChange whenever the file is written, created or replaced, until
// ctx is cancelled. The parent directory is watched so editors that replace the
// file atomically are still observed.
func (s *FileSource) Watch(ctx context.Context, logger zerolog.Logger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("mva: create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(s.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("mva: watch %s: %w", filepath.Dir(target), err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				logger.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("mva file changed")
				onChange()
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(werr).Msg("mva file watcher error")
		}
	}
}
