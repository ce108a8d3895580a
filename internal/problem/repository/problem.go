package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"minoj/internal/common/cache"
	"minoj/internal/common/db"
)

const (
	defaultProblemCacheTTL      = 30 * time.Minute
	defaultProblemCacheEmptyTTL = 5 * time.Minute
	problemCacheKeyPrefix       = "problem:"
)

var (
	ErrProblemNotFound = errors.New("problem not found")
	ErrProblemExists   = errors.New("problem already exists")
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// TestCase is one input/expected-output pair of a problem.
type TestCase struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Problem carries the fields the judge path needs. TimeLimitMs and
// MemoryLimitMB are optional overrides of the language defaults.
// Testcase payloads are zstd-compressed JSON both in the database column
// and in the cache entry.
type Problem struct {
	ProblemID     string
	Title         string
	Difficulty    Difficulty
	TimeLimitMs   *int64
	MemoryLimitMB *int64
	TestCases     []TestCase
}

type ProblemRepository interface {
	GetByID(ctx context.Context, tx db.Transaction, problemID string) (*Problem, error)
	Exists(ctx context.Context, tx db.Transaction, problemID string) (bool, error)
	Create(ctx context.Context, tx db.Transaction, problem *Problem) error
}

type MySQLProblemRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewProblemRepository(database db.Database, cacheClient cache.Cache) ProblemRepository {
	return NewProblemRepositoryWithTTL(database, cacheClient, defaultProblemCacheTTL, defaultProblemCacheEmptyTTL)
}

func NewProblemRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) ProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultProblemCacheEmptyTTL
	}
	return &MySQLProblemRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

const problemColumns = "problem_id, title, difficulty, time_limit_ms, memory_limit_mb, testcases"

func (r *MySQLProblemRepository) GetByID(ctx context.Context, tx db.Transaction, problemID string) (*Problem, error) {
	if problemID == "" {
		return nil, errors.New("problemID is required")
	}
	if r.cache != nil && tx == nil {
		problem, err := cache.GetWithCached[*Problem](
			ctx,
			r.cache,
			problemCacheKey(problemID),
			r.ttl,
			r.emptyTTL,
			func(problem *Problem) bool { return problem == nil },
			marshalProblem,
			unmarshalProblem,
			func(ctx context.Context) (*Problem, error) {
				problem, err := r.getByIDFromDB(ctx, nil, problemID)
				if err != nil {
					if errors.Is(err, ErrProblemNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return problem, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if problem == nil {
			return nil, ErrProblemNotFound
		}
		return problem, nil
	}
	return r.getByIDFromDB(ctx, tx, problemID)
}

func (r *MySQLProblemRepository) Exists(ctx context.Context, tx db.Transaction, problemID string) (bool, error) {
	if problemID == "" {
		return false, errors.New("problemID is required")
	}
	query := "SELECT 1 FROM problems WHERE problem_id = ? LIMIT 1"
	var one int
	if err := db.GetQuerier(r.db, tx).QueryRow(ctx, query, problemID).Scan(&one); err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *MySQLProblemRepository) Create(ctx context.Context, tx db.Transaction, problem *Problem) error {
	if problem == nil {
		return errors.New("problem is nil")
	}
	if problem.ProblemID == "" {
		return errors.New("problemID is required")
	}
	if problem.Title == "" {
		return errors.New("title is required")
	}
	if len(problem.TestCases) == 0 {
		return errors.New("testcases are required")
	}
	difficulty := problem.Difficulty
	if difficulty == "" {
		difficulty = DifficultyMedium
	}

	payload, err := compressTestCases(problem.TestCases)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO problems (problem_id, title, difficulty, time_limit_ms, memory_limit_mb, testcases)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		problem.ProblemID,
		problem.Title,
		difficulty,
		problem.TimeLimitMs,
		problem.MemoryLimitMB,
		payload,
	)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return ErrProblemExists
		}
		return err
	}
	if r.cache != nil {
		_ = r.cache.Del(ctx, problemCacheKey(problem.ProblemID))
	}
	return nil
}

func (r *MySQLProblemRepository) getByIDFromDB(ctx context.Context, tx db.Transaction, problemID string) (*Problem, error) {
	query := "SELECT " + problemColumns + " FROM problems WHERE problem_id = ? LIMIT 1"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, problemID)

	problem := &Problem{}
	var payload []byte
	if err := row.Scan(
		&problem.ProblemID,
		&problem.Title,
		&problem.Difficulty,
		&problem.TimeLimitMs,
		&problem.MemoryLimitMB,
		&payload,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}
	testCases, err := decompressTestCases(payload)
	if err != nil {
		return nil, fmt.Errorf("decode testcases of %s: %w", problemID, err)
	}
	problem.TestCases = testCases
	return problem, nil
}

func problemCacheKey(problemID string) string {
	return problemCacheKeyPrefix + problemID
}

// cachedProblem mirrors Problem with the testcase payload kept compressed,
// so the cache entry stays small for problems with large testcases.
type cachedProblem struct {
	ProblemID     string     `json:"problem_id"`
	Title         string     `json:"title"`
	Difficulty    Difficulty `json:"difficulty"`
	TimeLimitMs   *int64     `json:"time_limit_ms"`
	MemoryLimitMB *int64     `json:"memory_limit_mb"`
	TestCases     string     `json:"testcases"`
}

func marshalProblem(problem *Problem) string {
	if problem == nil {
		return ""
	}
	payload, err := compressTestCases(problem.TestCases)
	if err != nil {
		return ""
	}
	data, err := json.Marshal(cachedProblem{
		ProblemID:     problem.ProblemID,
		Title:         problem.Title,
		Difficulty:    problem.Difficulty,
		TimeLimitMs:   problem.TimeLimitMs,
		MemoryLimitMB: problem.MemoryLimitMB,
		TestCases:     base64.StdEncoding.EncodeToString(payload),
	})
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalProblem(data string) (*Problem, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var cached cachedProblem
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		return nil, err
	}
	payload, err := base64.StdEncoding.DecodeString(cached.TestCases)
	if err != nil {
		return nil, err
	}
	testCases, err := decompressTestCases(payload)
	if err != nil {
		return nil, err
	}
	return &Problem{
		ProblemID:     cached.ProblemID,
		Title:         cached.Title,
		Difficulty:    cached.Difficulty,
		TimeLimitMs:   cached.TimeLimitMs,
		MemoryLimitMB: cached.MemoryLimitMB,
		TestCases:     testCases,
	}, nil
}

func compressTestCases(testCases []TestCase) ([]byte, error) {
	data, err := json.Marshal(testCases)
	if err != nil {
		return nil, err
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	compressed := encoder.EncodeAll(data, nil)
	_ = encoder.Close()
	return compressed, nil
}

func decompressTestCases(payload []byte) ([]TestCase, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	data, err := decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, err
	}
	var testCases []TestCase
	if err := json.Unmarshal(data, &testCases); err != nil {
		return nil, err
	}
	return testCases, nil
}
