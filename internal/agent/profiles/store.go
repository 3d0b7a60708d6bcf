package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dev-onboarding-agent/server/internal/agent/model"
	errx "github.com/dev-onboarding-agent/server/internal/core/error"
	logx "github.com/dev-onboarding-agent/server/pkg/logger"
)

// record is the on-disk value; the display name is the object key.
type record struct {
	Username   string `json:"username"`
	Role       string `json:"role"`
	Department string `json:"department"`
}

// Store is a flat JSON document of employee profiles keyed by display name.
// The whole file is read on every lookup and rewritten on every write.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Get returns the profile stored under the display name.
func (s *Store) Get(_ context.Context, name string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.read()
	if err != nil {
		return nil, err
	}
	rec, ok := db[name]
	if !ok {
		return nil, errx.NotFound("no profile for employee %q", name)
	}
	return toProfile(name, rec), nil
}

// FindByUsername scans the store for the first profile owned by username.
// Names are visited in sorted order so the result is stable.
func (s *Store) FindByUsername(_ context.Context, username string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.read()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(db))
	for name := range db {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if db[name].Username == username {
			return toProfile(name, db[name]), nil
		}
	}
	return nil, errx.NotFound("no profile for username %q", username)
}

// Upsert writes the profile under its display name, replacing any previous record.
// A malformed document is replaced rather than reported.
func (s *Store) Upsert(_ context.Context, p model.Profile) error {
	if strings.TrimSpace(p.Name) == "" {
		return errx.Input("employee name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.read()
	if err != nil {
		if errx.KindOf(err) != errx.KindProtocol {
			return err
		}
		logx.Warn().Err(err).Str("path", s.path).Msg("profile store is malformed, starting from an empty store")
		db = map[string]record{}
	}
	db[p.Name] = record{Username: p.Username, Role: p.Role, Department: p.Department}
	return s.write(db)
}

func (s *Store) read() (map[string]record, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]record{}, nil
		}
		return nil, fmt.Errorf("read profile store: %w", err)
	}
	db := map[string]record{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return db, nil
	}
	if err := json.Unmarshal(raw, &db); err != nil {
		return nil, errx.Protocol(err, "malformed profile store "+s.path)
	}
	return db, nil
}

func (s *Store) write(db map[string]record) error {
	b, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile store: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create profile store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".employee_db-*.json")
	if err != nil {
		return fmt.Errorf("create temp profile store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write profile store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close profile store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace profile store: %w", err)
	}
	return nil
}

func toProfile(name string, rec record) *model.Profile {
	return &model.Profile{
		Username:   rec.Username,
		Name:       name,
		Role:       rec.Role,
		Department: rec.Department,
	}
}
