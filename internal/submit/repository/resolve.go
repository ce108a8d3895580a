package repository

import (
	"context"
	"errors"
	"strconv"

	"minoj/internal/common/db"
	userrepo "minoj/internal/user/repository"
)

// ResolveRecord tracks whether a user has ever fully solved a problem in
// a specific language. The resolved bit is monotonic: once true it never
// goes back.
type ResolveRecord struct {
	ProblemID string
	UserID    int64
	Language  string
	Resolved  bool
}

type ResolveRepository interface {
	// UpsertResolve records a judged attempt for the (problem, user,
	// language) triple. A flip from absent/false to true increments the
	// user's resolve count exactly once; everything else is a no-op on
	// the counter. Returns whether the bit flipped to true.
	UpsertResolve(ctx context.Context, problemID string, userID int64, language string, passed bool) (bool, error)
	Get(ctx context.Context, tx db.Transaction, problemID string, userID int64, language string) (*ResolveRecord, error)
}

type MySQLResolveRepository struct {
	db    db.Database
	users userrepo.UserRepository
}

func NewResolveRepository(database db.Database, users userrepo.UserRepository) ResolveRepository {
	return &MySQLResolveRepository{db: database, users: users}
}

func (r *MySQLResolveRepository) UpsertResolve(ctx context.Context, problemID string, userID int64, language string, passed bool) (bool, error) {
	if problemID == "" {
		return false, errors.New("problemID is required")
	}
	if userID <= 0 {
		return false, errors.New("userID is required")
	}
	if language == "" {
		return false, errors.New("language is required")
	}

	flipped := false
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		flipped = false

		query := `
			SELECT resolved FROM resolve_records
			WHERE problem_id = ? AND user_id = ? AND language = ?
			FOR UPDATE
		`
		var resolved bool
		err := tx.QueryRow(ctx, query, problemID, userID, language).Scan(&resolved)
		switch {
		case db.IsNoRows(err):
			insert := "INSERT INTO resolve_records (problem_id, user_id, language, resolved) VALUES (?, ?, ?, ?)"
			if _, err := tx.Exec(ctx, insert, problemID, userID, language, passed); err != nil {
				// A concurrent judge of the same triple may insert
				// first; fall back to the update path.
				if _, ok := db.UniqueViolation(err); !ok {
					return err
				}
				return r.flipExisting(ctx, tx, problemID, userID, language, passed, &flipped)
			}
			flipped = passed
		case err != nil:
			return err
		case resolved:
			return nil
		case passed:
			update := "UPDATE resolve_records SET resolved = TRUE WHERE problem_id = ? AND user_id = ? AND language = ?"
			if _, err := tx.Exec(ctx, update, problemID, userID, language); err != nil {
				return err
			}
			flipped = true
		default:
			return nil
		}

		if flipped {
			return r.users.IncrementResolveCount(ctx, tx, userID)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return flipped, nil
}

func (r *MySQLResolveRepository) flipExisting(ctx context.Context, tx db.Transaction, problemID string, userID int64, language string, passed bool, flipped *bool) error {
	if !passed {
		return nil
	}
	update := "UPDATE resolve_records SET resolved = TRUE WHERE problem_id = ? AND user_id = ? AND language = ? AND resolved = FALSE"
	result, err := tx.Exec(ctx, update, problemID, userID, language)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		*flipped = true
		return r.users.IncrementResolveCount(ctx, tx, userID)
	}
	return nil
}

func (r *MySQLResolveRepository) Get(ctx context.Context, tx db.Transaction, problemID string, userID int64, language string) (*ResolveRecord, error) {
	query := `
		SELECT problem_id, user_id, language, resolved
		FROM resolve_records
		WHERE problem_id = ? AND user_id = ? AND language = ?
		LIMIT 1
	`
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, problemID, userID, language)
	record := &ResolveRecord{}
	if err := row.Scan(&record.ProblemID, &record.UserID, &record.Language, &record.Resolved); err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func fmtInt64(value int64) string {
	return strconv.FormatInt(value, 10)
}
