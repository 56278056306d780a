// Package fsloader loads path-strategy resources from a directory tree.
//
// Files are decoded according to their extension (JSON or YAML) into the
// type the reference declares. Anything else is returned as raw bytes. Loaded
// handles are cached until the backing file changes.
package fsloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-datastore/pkg/errdefs"
	"github.com/goliatone/go-datastore/pkg/reference"
)

// Extensions tried, in order, when a resource path has no extension.
var Extensions = []string{".json", ".yaml", ".yml"}

var (
	bytesType  = reflect.TypeOf([]byte(nil))
	stringType = reflect.TypeOf("")
)

// Loader implements reference.PathLoader over a root directory.
type Loader struct {
	root   string
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]map[reflect.Type]any

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the loader logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// New creates a loader rooted at dir.
func New(dir string, opts ...Option) (*Loader, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, errdefs.InvalidArgument("loader root %q is not a directory", dir)
	}

	l := &Loader{
		root:   root,
		logger: zerolog.Nop(),
		cache:  map[string]map[reflect.Type]any{},
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Root returns the absolute root directory.
func (l *Loader) Root() string {
	return l.root
}

// LoadByPath implements reference.PathLoader. A missing file yields a nil
// handle and a nil error.
func (l *Loader) LoadByPath(ctx context.Context, resourcePath string, typ reflect.Type) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := l.locate(resourcePath)
	if err != nil || file == "" {
		return nil, err
	}

	if handle, ok := l.cached(file, typ); ok {
		return handle, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", resourcePath, err)
	}
	handle, err := decode(file, data, typ)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", resourcePath, err)
	}

	l.mu.Lock()
	if l.cache[file] == nil {
		l.cache[file] = map[reflect.Type]any{}
	}
	l.cache[file][typ] = handle
	l.mu.Unlock()

	l.logger.Debug().Str("path", resourcePath).Str("file", file).Msg("resource loaded")
	return handle, nil
}

func (l *Loader) cached(file string, typ reflect.Type) (any, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	handle, ok := l.cache[file][typ]
	return handle, ok
}

// locate maps a resource path to a file under root. It returns "" when no
// candidate exists.
func (l *Loader) locate(resourcePath string) (string, error) {
	if strings.TrimSpace(resourcePath) == "" {
		return "", errdefs.InvalidArgument("resource path must not be empty")
	}
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(resourcePath, "/")))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errdefs.InvalidArgument("resource path %q escapes the loader root", resourcePath)
	}
	base := filepath.Join(l.root, clean)

	candidates := []string{base}
	if filepath.Ext(base) == "" {
		for _, ext := range Extensions {
			candidates = append(candidates, base+ext)
		}
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if info.Mode().IsRegular() {
			return candidate, nil
		}
	}
	return "", nil
}

// Invalidate drops cached handles for file. It reports whether anything was
// evicted.
func (l *Loader) Invalidate(file string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.cache[file]; !ok {
		return false
	}
	delete(l.cache, file)
	return true
}

// Purge drops every cached handle.
func (l *Loader) Purge() {
	l.mu.Lock()
	l.cache = map[string]map[reflect.Type]any{}
	l.mu.Unlock()
}

// Watch evicts cached handles whenever their files change on disk.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	err = filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", l.root, err)
	}
	l.watcher = watcher

	go l.watchLoop()

	l.logger.Info().Str("root", l.root).Msg("watching resource directory")
	return nil
}

// Close stops the watcher, if any.
func (l *Loader) Close() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.stopCh)
		if l.watcher != nil {
			err = l.watcher.Close()
		}
	})
	return err
}

func (l *Loader) watchLoop() {
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := l.watcher.Add(event.Name); err != nil {
						l.logger.Warn().Err(err).Str("dir", event.Name).Msg("watch new directory")
					}
				}
			}
			if l.Invalidate(event.Name) {
				l.logger.Debug().
					Str("event", event.Op.String()).
					Str("file", event.Name).
					Msg("resource evicted")
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("resource watcher error")
		case <-l.stopCh:
			return
		}
	}
}

func decode(file string, data []byte, typ reflect.Type) (any, error) {
	switch typ {
	case bytesType:
		return data, nil
	case stringType:
		return string(data), nil
	}

	var unmarshal func([]byte, any) error
	switch strings.ToLower(filepath.Ext(file)) {
	case ".json":
		unmarshal = decodeJSON
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	default:
		if typ != nil {
			return nil, fmt.Errorf("%w: cannot decode %s into %s", errdefs.ErrTypeMismatch, filepath.Ext(file), typ)
		}
		return data, nil
	}

	if typ == nil {
		var out any
		if err := unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	if typ.Kind() == reflect.Pointer {
		target := reflect.New(typ.Elem())
		if err := unmarshal(data, target.Interface()); err != nil {
			return nil, err
		}
		return target.Interface(), nil
	}
	target := reflect.New(typ)
	if err := unmarshal(data, target.Interface()); err != nil {
		return nil, err
	}
	return target.Elem().Interface(), nil
}

func decodeJSON(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

var _ reference.PathLoader = (*Loader)(nil)
