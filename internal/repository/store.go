package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// Store bundles all repositories over one database handle and provides
// scoped atomic transactions for the orchestrator's apply phase.
type Store struct {
	db        *sql.DB
	Journal   *JournalRepository
	Entities  *EntityRepository
	Cursor    *CursorRepository
	Conflicts *ConflictRepository
}

// NewStore creates a Store over an initialized database
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:        db,
		Journal:   NewJournalRepository(db),
		Entities:  NewEntityRepository(db),
		Cursor:    NewCursorRepository(db),
		Conflicts: NewConflictRepository(db),
	}
}

// DB returns the underlying database handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// Transact runs fn against transaction-bound repositories. Everything fn
// does commits or rolls back as one unit; a pull page and its cursor
// advance always go through here.
func (s *Store) Transact(ctx context.Context, fn func(tx *Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txStore := &Store{
		db:        s.db,
		Journal:   NewJournalRepositoryTx(sqlTx),
		Entities:  NewEntityRepositoryTx(sqlTx),
		Cursor:    NewCursorRepositoryTx(sqlTx),
		Conflicts: NewConflictRepositoryTx(sqlTx),
	}

	if err := fn(txStore); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	return sqlTx.Commit()
}
