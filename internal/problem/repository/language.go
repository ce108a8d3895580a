package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"minoj/internal/common/cache"
	"minoj/internal/common/db"
)

const (
	defaultLanguageCacheTTL      = 30 * time.Minute
	defaultLanguageCacheEmptyTTL = 5 * time.Minute
	languageCacheKeyPrefix       = "language:"
)

var (
	ErrLanguageNotFound = errors.New("language not found")
)

// Language is one supported language configuration. Compile and run
// commands are templates carrying {src} and {exe} placeholders; the
// limits are the defaults a problem may override.
type Language struct {
	Name           string
	Extension      string
	CompileCommand string
	RunCommand     string
	TimeLimitMs    int64
	MemoryLimitMB  int64
	Image          string
}

type LanguageRepository interface {
	GetByName(ctx context.Context, tx db.Transaction, name string) (*Language, error)
	List(ctx context.Context, tx db.Transaction) ([]Language, error)
	Upsert(ctx context.Context, tx db.Transaction, language *Language) error
}

type MySQLLanguageRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewLanguageRepository(database db.Database, cacheClient cache.Cache) LanguageRepository {
	return NewLanguageRepositoryWithTTL(database, cacheClient, defaultLanguageCacheTTL, defaultLanguageCacheEmptyTTL)
}

func NewLanguageRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) LanguageRepository {
	if ttl <= 0 {
		ttl = defaultLanguageCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultLanguageCacheEmptyTTL
	}
	return &MySQLLanguageRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

const languageColumns = "name, extension, compile_command, run_command, time_limit_ms, memory_limit_mb, image"

func (r *MySQLLanguageRepository) GetByName(ctx context.Context, tx db.Transaction, name string) (*Language, error) {
	if name == "" {
		return nil, errors.New("name is required")
	}
	if r.cache != nil && tx == nil {
		language, err := cache.GetWithCached[*Language](
			ctx,
			r.cache,
			languageCacheKey(name),
			r.ttl,
			r.emptyTTL,
			func(language *Language) bool { return language == nil },
			marshalLanguage,
			unmarshalLanguage,
			func(ctx context.Context) (*Language, error) {
				language, err := r.getByNameFromDB(ctx, nil, name)
				if err != nil {
					if errors.Is(err, ErrLanguageNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return language, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if language == nil {
			return nil, ErrLanguageNotFound
		}
		return language, nil
	}
	return r.getByNameFromDB(ctx, tx, name)
}

func (r *MySQLLanguageRepository) List(ctx context.Context, tx db.Transaction) ([]Language, error) {
	query := "SELECT " + languageColumns + " FROM languages ORDER BY name"
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var languages []Language
	for rows.Next() {
		language, err := scanLanguage(rows)
		if err != nil {
			return nil, err
		}
		languages = append(languages, *language)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return languages, nil
}

// Upsert inserts or replaces a language configuration and drops the
// per-name cache entry so readers see the new config.
func (r *MySQLLanguageRepository) Upsert(ctx context.Context, tx db.Transaction, language *Language) error {
	if language == nil {
		return errors.New("language is nil")
	}
	if language.Name == "" {
		return errors.New("name is required")
	}
	if language.RunCommand == "" {
		return errors.New("runCommand is required")
	}

	query := `
		INSERT INTO languages (name, extension, compile_command, run_command, time_limit_ms, memory_limit_mb, image)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			extension = VALUES(extension),
			compile_command = VALUES(compile_command),
			run_command = VALUES(run_command),
			time_limit_ms = VALUES(time_limit_ms),
			memory_limit_mb = VALUES(memory_limit_mb),
			image = VALUES(image)
	`
	_, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		language.Name,
		language.Extension,
		language.CompileCommand,
		language.RunCommand,
		language.TimeLimitMs,
		language.MemoryLimitMB,
		language.Image,
	)
	if err != nil {
		return err
	}
	if r.cache != nil {
		_ = r.cache.Del(ctx, languageCacheKey(language.Name))
	}
	return nil
}

func (r *MySQLLanguageRepository) getByNameFromDB(ctx context.Context, tx db.Transaction, name string) (*Language, error) {
	query := "SELECT " + languageColumns + " FROM languages WHERE name = ? LIMIT 1"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, name)
	language, err := scanLanguage(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrLanguageNotFound
		}
		return nil, err
	}
	return language, nil
}

func scanLanguage(scanner db.Scanner) (*Language, error) {
	language := &Language{}
	var compileCommand *string
	if err := scanner.Scan(
		&language.Name,
		&language.Extension,
		&compileCommand,
		&language.RunCommand,
		&language.TimeLimitMs,
		&language.MemoryLimitMB,
		&language.Image,
	); err != nil {
		return nil, err
	}
	if compileCommand != nil {
		language.CompileCommand = *compileCommand
	}
	return language, nil
}

func languageCacheKey(name string) string {
	return languageCacheKeyPrefix + name
}

func marshalLanguage(language *Language) string {
	if language == nil {
		return ""
	}
	data, err := json.Marshal(language)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalLanguage(data string) (*Language, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var language Language
	if err := json.Unmarshal([]byte(data), &language); err != nil {
		return nil, err
	}
	return &language, nil
}
