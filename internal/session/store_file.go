package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/steamgate/internal/observability/logger"
	"github.com/dropDatabas3/steamgate/internal/util/atomicwrite"
)

// DefaultFilePath es el directorio por defecto del FileStore.
const DefaultFilePath = "./sessions"

// FileStore guarda una sesión por archivo JSON (<dir>/<id>.json). Sobrevive reinicios.
type FileStore struct {
	dir string
	now func() time.Time
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultFilePath
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: create store dir: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// path valida el id antes de usarlo como nombre de archivo.
func (f *FileStore) path(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrInvalidID
	}
	return filepath.Join(f.dir, id+".json"), nil
}

func (f *FileStore) Load(_ context.Context, id string) (*Session, error) {
	p, err := f.path(id)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: read: %w", err)
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", filepath.Base(p), err)
	}
	if s.expired(f.now()) {
		_ = atomicwrite.Remove(p)
		return nil, ErrNotFound
	}
	return &s, nil
}

func (f *FileStore) Save(_ context.Context, s *Session) error {
	p, err := f.path(s.ID)
	if err != nil {
		return err
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := atomicwrite.WriteFile(p, b, 0o600); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	return nil
}

func (f *FileStore) Destroy(_ context.Context, id string) error {
	p, err := f.path(id)
	if err != nil {
		return err
	}
	if err := atomicwrite.Remove(p); err != nil {
		return fmt.Errorf("session: remove: %w", err)
	}
	return nil
}

// Reap borra las sesiones expiradas y devuelve cuántas borró.
func (f *FileStore) Reap(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		_, err := f.Load(ctx, strings.TrimSuffix(name, ".json"))
		if errors.Is(err, ErrNotFound) {
			n++
		}
	}
	return n, nil
}

// StartReaper corre Reap cada interval hasta que ctx se cancele.
func (f *FileStore) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := f.Reap(ctx)
				log := logger.L().With(logger.Component("session.file"), logger.Op("Reap"))
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Warn("reap failed", logger.Err(err))
				} else if n > 0 {
					log.Debug("expired sessions removed", logger.Int("count", n))
				}
			}
		}
	}()
}
