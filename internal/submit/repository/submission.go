package repository

import (
	"context"
	"errors"
	"time"

	"minoj/internal/common/cache"
	"minoj/internal/common/db"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrPageNotFound       = errors.New("page not found")
	ErrMissingFilter      = errors.New("user id and problem id cannot both be empty")
)

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ListCacheKind tags submission-list entries in the cache coordinator.
// Writes to a submission invalidate the lists cached under its user and
// problem through this kind.
const ListCacheKind = "submission_list"

// Submission is one judge submission. Score and Counts are set only once
// the submission reaches SUCCESS; they stay NULL for PENDING and ERROR.
type Submission struct {
	ID             int64
	SubmissionID   string
	UserID         int64
	ProblemID      string
	SubmissionTime time.Time
	Language       string
	Status         Status
	Score          *int64
	Counts         *int64
	Code           string
}

// TestRecord is one per-testcase log row of a judged submission.
// Ordinals start at 1.
type TestRecord struct {
	Ordinal  int64
	Result   string
	TimeMs   int64
	MemoryKB int64
}

// ListFilter restricts a submission listing. At least one of UserID or
// ProblemID must be set.
type ListFilter struct {
	UserID    *int64
	ProblemID *string
	Status    *Status
}

// ListItem is the projection returned by List.
type ListItem struct {
	SubmissionID string
	Status       Status
	Score        *int64
	Counts       *int64
}

// ListPage is one page of a submission listing.
type ListPage struct {
	Total      int64
	TotalPages int64
	Items      []ListItem
}

type SubmissionRepository interface {
	// CreatePending inserts a new PENDING submission. It returns false
	// without error when the submission id is already taken, so callers
	// can retry with a fresh id.
	CreatePending(ctx context.Context, tx db.Transaction, submission *Submission) (bool, error)
	Get(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, error)
	GetWithTests(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, []TestRecord, error)
	// UpdateStatus moves a submission to status. When tests is non-nil
	// the test rows are atomically replaced; nil tests keeps the
	// existing rows. Score, counts and tests must be nil unless status
	// is SUCCESS.
	UpdateStatus(ctx context.Context, submissionID string, status Status, score, counts *int64, tests []TestRecord) error
	List(ctx context.Context, filter ListFilter, page, pageSize int64) (*ListPage, error)
}

type MySQLSubmissionRepository struct {
	db          db.Database
	coordinator *cache.Coordinator
}

func NewSubmissionRepository(database db.Database, coordinator *cache.Coordinator) SubmissionRepository {
	return &MySQLSubmissionRepository{db: database, coordinator: coordinator}
}

const submissionColumns = "id, submission_id, user_id, problem_id, submission_time, language, status, score, counts, code"

func (r *MySQLSubmissionRepository) CreatePending(ctx context.Context, tx db.Transaction, submission *Submission) (bool, error) {
	if submission == nil {
		return false, errors.New("submission is nil")
	}
	if submission.SubmissionID == "" {
		return false, errors.New("submissionID is required")
	}
	if submission.UserID <= 0 {
		return false, errors.New("userID is required")
	}
	if submission.ProblemID == "" {
		return false, errors.New("problemID is required")
	}
	if submission.Language == "" {
		return false, errors.New("language is required")
	}
	if submission.Code == "" {
		return false, errors.New("code is required")
	}

	query := `
		INSERT INTO submissions
		(submission_id, user_id, problem_id, submission_time, language, status, code)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		submission.SubmissionID,
		submission.UserID,
		submission.ProblemID,
		submission.SubmissionTime,
		submission.Language,
		StatusPending,
		submission.Code,
	)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return false, nil
		}
		return false, err
	}
	submission.Status = StatusPending
	r.invalidateLists(ctx, submission.UserID, submission.ProblemID)
	return true, nil
}

func (r *MySQLSubmissionRepository) Get(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submissionID is required")
	}
	query := "SELECT " + submissionColumns + " FROM submissions WHERE submission_id = ? LIMIT 1"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, submissionID)
	return scanSubmission(row)
}

func (r *MySQLSubmissionRepository) GetWithTests(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, []TestRecord, error) {
	submission, err := r.Get(ctx, tx, submissionID)
	if err != nil {
		return nil, nil, err
	}

	query := `
		SELECT ordinal, result, time_ms, memory_kb
		FROM submission_tests
		WHERE submission_id = ?
		ORDER BY ordinal
	`
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, submissionID)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	var tests []TestRecord
	for rows.Next() {
		var test TestRecord
		if err := rows.Scan(&test.Ordinal, &test.Result, &test.TimeMs, &test.MemoryKB); err != nil {
			return nil, nil, err
		}
		tests = append(tests, test)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return submission, tests, nil
}

func (r *MySQLSubmissionRepository) UpdateStatus(ctx context.Context, submissionID string, status Status, score, counts *int64, tests []TestRecord) error {
	if submissionID == "" {
		return errors.New("submissionID is required")
	}
	if status != StatusSuccess && (score != nil || counts != nil || len(tests) > 0) {
		return errors.New("score, counts and tests require SUCCESS status")
	}

	var userID int64
	var problemID string
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		query := "SELECT user_id, problem_id FROM submissions WHERE submission_id = ? FOR UPDATE"
		if err := tx.QueryRow(ctx, query, submissionID).Scan(&userID, &problemID); err != nil {
			if db.IsNoRows(err) {
				return ErrSubmissionNotFound
			}
			return err
		}

		update := "UPDATE submissions SET status = ?, score = ?, counts = ? WHERE submission_id = ?"
		if _, err := tx.Exec(ctx, update, status, score, counts, submissionID); err != nil {
			return err
		}

		// Nil tests means keep the existing log rows. A rejudge reset to
		// PENDING leaves the previous verdicts readable until the worker
		// writes replacements.
		if tests != nil {
			if _, err := tx.Exec(ctx, "DELETE FROM submission_tests WHERE submission_id = ?", submissionID); err != nil {
				return err
			}
			for _, test := range tests {
				insert := "INSERT INTO submission_tests (submission_id, ordinal, result, time_ms, memory_kb) VALUES (?, ?, ?, ?, ?)"
				if _, err := tx.Exec(ctx, insert, submissionID, test.Ordinal, test.Result, test.TimeMs, test.MemoryKB); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.invalidateLists(ctx, userID, problemID)
	return nil
}

func (r *MySQLSubmissionRepository) List(ctx context.Context, filter ListFilter, page, pageSize int64) (*ListPage, error) {
	if filter.UserID == nil && filter.ProblemID == nil {
		return nil, ErrMissingFilter
	}
	if page < 1 || pageSize < 1 {
		return nil, errors.New("page and pageSize must be positive")
	}

	where, args := buildListWhere(filter)

	var total int64
	countQuery := "SELECT COUNT(*) FROM submissions" + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, err
	}
	if total == 0 {
		return &ListPage{Total: 0, TotalPages: 0, Items: nil}, nil
	}

	totalPages := (total + pageSize - 1) / pageSize
	if page > totalPages {
		return nil, ErrPageNotFound
	}

	query := "SELECT submission_id, status, score, counts FROM submissions" + where +
		" ORDER BY submission_time DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	items := make([]ListItem, 0, pageSize)
	for rows.Next() {
		var item ListItem
		if err := rows.Scan(&item.SubmissionID, &item.Status, &item.Score, &item.Counts); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &ListPage{Total: total, TotalPages: totalPages, Items: items}, nil
}

func buildListWhere(filter ListFilter) (string, []interface{}) {
	where := ""
	var args []interface{}
	appendCond := func(cond string, arg interface{}) {
		if where == "" {
			where = " WHERE " + cond
		} else {
			where += " AND " + cond
		}
		args = append(args, arg)
	}
	if filter.UserID != nil {
		appendCond("user_id = ?", *filter.UserID)
	}
	if filter.ProblemID != nil {
		appendCond("problem_id = ?", *filter.ProblemID)
	}
	if filter.Status != nil {
		appendCond("status = ?", *filter.Status)
	}
	return where, args
}

func (r *MySQLSubmissionRepository) invalidateLists(ctx context.Context, userID int64, problemID string) {
	if r.coordinator == nil {
		return
	}
	_ = r.coordinator.Invalidate(ctx, ListCacheKind,
		cache.Dependency{Field: "user_id", Value: fmtInt64(userID)},
		cache.Dependency{Field: "problem_id", Value: problemID},
	)
}

func scanSubmission(row db.Row) (*Submission, error) {
	submission := &Submission{}
	if err := row.Scan(
		&submission.ID,
		&submission.SubmissionID,
		&submission.UserID,
		&submission.ProblemID,
		&submission.SubmissionTime,
		&submission.Language,
		&submission.Status,
		&submission.Score,
		&submission.Counts,
		&submission.Code,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}
