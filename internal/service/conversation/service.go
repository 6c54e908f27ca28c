// Package conversation owns discussions and messages between admins and their
// operators and technicians.
package conversation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"incidentdesk/internal/directory"
)

var (
	// ErrValidation marks missing or malformed input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing recipient, sender or discussion.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks a caller who is not a participant of the discussion.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict marks a lost discussion-creation race. It is recovered internally.
	ErrConflict = errors.New("conflict")
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Service handles discussion lookup, message persistence and read state.
type Service struct {
	db     *sql.DB
	dir    directory.Directory
	now    func() time.Time
	txOpts *sql.TxOptions
	log    zerolog.Logger
}

type Option func(*Service)

// WithClock overrides the time source used for created_at and last_message_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTxOptions sets the options used when beginning the send transaction.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(s *Service) { s.txOpts = opts }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// NewService builds a conversation service.
func NewService(db *sql.DB, dir directory.Directory, opts ...Option) *Service {
	s := &Service{
		db:  db,
		dir: dir,
		now: func() time.Time {
			// mysql DATETIME(6) keeps microseconds.
			return time.Now().UTC().Truncate(time.Microsecond)
		},
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
