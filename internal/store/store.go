package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

var (
	ErrNoPendingTargets = errors.New("store: no pending targets")
	ErrVersionConflict  = errors.New("store: version conflict")
	ErrNotFound         = errors.New("store: not found")
)

type Options struct {
	DB     *gorm.DB
	Logger *slog.Logger
	Now    func() time.Time
}

// Store wraps the relational database. Every method scopes a fresh session
// to its context; nothing holds a handle across a suspension point. All
// cross-process writes to targets and dialogues go through the transactional
// claim or the version-checked saves here.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func New(opts Options) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("gorm db is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{db: opts.DB, logger: logger, now: now}, nil
}

// session returns a request-scoped handle.
func (s *Store) session(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}
