package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"minoj/internal/common/cache"
	"minoj/internal/common/storage"
	problemrepo "minoj/internal/problem/repository"
	"minoj/internal/submit/repository"
	userrepo "minoj/internal/user/repository"
	appErr "minoj/pkg/errors"
	"minoj/pkg/utils/logger"
)

const defaultSourcePrefix = "submissions"

// Enqueuer hands accepted submissions to the judge queue.
type Enqueuer interface {
	EnqueueJudge(ctx context.Context, userID int64, problemID, language, code string, submissionTime time.Time) (string, error)
	EnqueueRejudge(ctx context.Context, submissionID string) error
}

// Viewer identifies who is asking. Ownership and admin checks run
// against it.
type Viewer struct {
	UserID int64
	Role   userrepo.UserRole
}

func (v Viewer) isAdmin() bool {
	return v.Role == userrepo.UserRoleAdmin
}

// Config holds submit service dependencies and settings.
type Config struct {
	Problems    problemrepo.ProblemRepository
	Languages   problemrepo.LanguageRepository
	Users       userrepo.UserRepository
	Submissions repository.SubmissionRepository
	Enqueuer    Enqueuer
	RateLimiter *RateLimiter
	Coordinator *cache.Coordinator

	// Optional source archive. Nil disables archival.
	Storage         storage.ObjectStorage
	SourceBucket    string
	SourceKeyPrefix string
}

// SubmitService handles submission intake and queries.
type SubmitService struct {
	problems    problemrepo.ProblemRepository
	languages   problemrepo.LanguageRepository
	users       userrepo.UserRepository
	submissions repository.SubmissionRepository
	enqueuer    Enqueuer
	rateLimiter *RateLimiter
	coordinator *cache.Coordinator

	storage         storage.ObjectStorage
	sourceBucket    string
	sourceKeyPrefix string
}

func NewSubmitService(cfg Config) (*SubmitService, error) {
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language repository is required")
	}
	if cfg.Users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Enqueuer == nil {
		return nil, fmt.Errorf("enqueuer is required")
	}
	if cfg.RateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cfg.Storage != nil && cfg.SourceBucket == "" {
		return nil, fmt.Errorf("source bucket is required when storage is set")
	}
	sourceKeyPrefix := cfg.SourceKeyPrefix
	if sourceKeyPrefix == "" {
		sourceKeyPrefix = defaultSourcePrefix
	}
	return &SubmitService{
		problems:        cfg.Problems,
		languages:       cfg.Languages,
		users:           cfg.Users,
		submissions:     cfg.Submissions,
		enqueuer:        cfg.Enqueuer,
		rateLimiter:     cfg.RateLimiter,
		coordinator:     cfg.Coordinator,
		storage:         cfg.Storage,
		sourceBucket:    cfg.SourceBucket,
		sourceKeyPrefix: sourceKeyPrefix,
	}, nil
}

// SubmitInput describes a submission request.
type SubmitInput struct {
	ProblemID string
	Language  string
	Code      string
}

// Submit validates the request, applies the rate limit and enqueues the
// judge task. On success the returned submission is already visible in
// PENDING state.
func (s *SubmitService) Submit(ctx context.Context, viewer Viewer, input SubmitInput) (string, error) {
	if viewer.UserID <= 0 {
		return "", appErr.New(appErr.Unauthorized)
	}
	if strings.TrimSpace(input.ProblemID) == "" {
		return "", appErr.ValidationError("problem_id", "required")
	}
	if strings.TrimSpace(input.Language) == "" {
		return "", appErr.ValidationError("language", "required")
	}
	if strings.TrimSpace(input.Code) == "" {
		return "", appErr.ValidationError("code", "required")
	}

	exists, err := s.problems.Exists(ctx, nil, input.ProblemID)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.DatabaseError, "check problem")
	}
	if !exists {
		return "", appErr.New(appErr.ProblemNotFound)
	}
	if _, err := s.languages.GetByName(ctx, nil, input.Language); err != nil {
		if errors.Is(err, problemrepo.ErrLanguageNotFound) {
			return "", appErr.New(appErr.LanguageNotSupported)
		}
		return "", appErr.Wrapf(err, appErr.DatabaseError, "check language")
	}

	allowed, err := s.rateLimiter.AllowToSubmit(ctx, viewer.UserID)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", appErr.New(appErr.SubmitTooFrequently)
	}

	submissionID, err := s.enqueuer.EnqueueJudge(ctx, viewer.UserID, input.ProblemID, input.Language, input.Code, time.Now())
	if err != nil {
		return "", err
	}

	s.archiveSource(ctx, submissionID, input.Code)
	if err := s.users.IncrementSubmitCount(ctx, nil, viewer.UserID); err != nil {
		logger.Warn(ctx, "increment submit count failed",
			zap.Int64("user_id", viewer.UserID), zap.Error(err))
	}
	return submissionID, nil
}

// GetSubmission returns the score/counts view of one submission,
// restricted to the owner and admins.
func (s *SubmitService) GetSubmission(ctx context.Context, viewer Viewer, submissionID string) (*repository.Submission, error) {
	submission, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(viewer, submission); err != nil {
		return nil, err
	}
	return submission, nil
}

// GetLog returns the full per-test log of one submission, restricted to
// the owner and admins.
func (s *SubmitService) GetLog(ctx context.Context, viewer Viewer, submissionID string) (*repository.Submission, []repository.TestRecord, error) {
	if submissionID == "" {
		return nil, nil, appErr.ValidationError("submission_id", "required")
	}
	submission, tests, err := s.submissions.GetWithTests(ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, nil, appErr.New(appErr.SubmissionNotFound)
		}
		return nil, nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission log")
	}
	if err := s.authorize(viewer, submission); err != nil {
		return nil, nil, err
	}
	return submission, tests, nil
}

// ListInput restricts a submission listing.
type ListInput struct {
	UserID    *int64
	ProblemID *string
	Status    *repository.Status
	Page      int64
	PageSize  int64
}

// List returns one page of submissions. At least one of the user and
// problem filters is required; non-admin viewers are pinned to their own
// submissions. Responses are cached per query and viewer.
func (s *SubmitService) List(ctx context.Context, viewer Viewer, input ListInput) (*repository.ListPage, error) {
	if input.UserID == nil && input.ProblemID == nil {
		return nil, appErr.New(appErr.MissingFilter)
	}
	if input.UserID == nil && !viewer.isAdmin() {
		userID := viewer.UserID
		input.UserID = &userID
	}
	if input.Page <= 0 {
		input.Page = 1
	}
	if input.PageSize <= 0 {
		input.PageSize = 20
	}

	cacheKey := s.listCacheKey(viewer, input)
	if cacheKey != "" {
		if payload, err := s.coordinator.Get(ctx, cacheKey); err == nil && payload != "" {
			var page repository.ListPage
			if err := json.Unmarshal([]byte(payload), &page); err == nil {
				return &page, nil
			}
		}
	}

	page, err := s.submissions.List(ctx, repository.ListFilter{
		UserID:    input.UserID,
		ProblemID: input.ProblemID,
		Status:    input.Status,
	}, input.Page, input.PageSize)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPageNotFound):
			return nil, appErr.New(appErr.PageNotFound)
		case errors.Is(err, repository.ErrMissingFilter):
			return nil, appErr.New(appErr.MissingFilter)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list submissions")
	}

	if cacheKey != "" {
		if payload, err := json.Marshal(page); err == nil {
			deps := make([]cache.Dependency, 0, 2)
			if input.UserID != nil {
				deps = append(deps, cache.Dependency{Field: "user_id", Value: strconv.FormatInt(*input.UserID, 10)})
			}
			if input.ProblemID != nil {
				deps = append(deps, cache.Dependency{Field: "problem_id", Value: *input.ProblemID})
			}
			if err := s.coordinator.Store(ctx, repository.ListCacheKind, cacheKey, string(payload), deps...); err != nil {
				logger.Warn(ctx, "cache submission list failed", zap.Error(err))
			}
		}
	}
	return page, nil
}

// Rejudge pushes an existing submission back through the judge pipeline.
// Admin only.
func (s *SubmitService) Rejudge(ctx context.Context, viewer Viewer, submissionID string) error {
	if !viewer.isAdmin() {
		return appErr.New(appErr.Forbidden)
	}
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	return s.enqueuer.EnqueueRejudge(ctx, submissionID)
}

func (s *SubmitService) loadSubmission(ctx context.Context, submissionID string) (*repository.Submission, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	submission, err := s.submissions.Get(ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission")
	}
	return submission, nil
}

func (s *SubmitService) authorize(viewer Viewer, submission *repository.Submission) error {
	if submission.UserID != viewer.UserID && !viewer.isAdmin() {
		return appErr.New(appErr.Forbidden)
	}
	return nil
}

func (s *SubmitService) listCacheKey(viewer Viewer, input ListInput) string {
	if s.coordinator == nil {
		return ""
	}
	userFilter := ""
	if input.UserID != nil {
		userFilter = strconv.FormatInt(*input.UserID, 10)
	}
	problemFilter := ""
	if input.ProblemID != nil {
		problemFilter = *input.ProblemID
	}
	statusFilter := ""
	if input.Status != nil {
		statusFilter = string(*input.Status)
	}
	return s.coordinator.ListKey(
		repository.ListCacheKind,
		userFilter,
		problemFilter,
		statusFilter,
		strconv.FormatInt(input.Page, 10),
		strconv.FormatInt(input.PageSize, 10),
		strconv.FormatInt(viewer.UserID, 10),
		string(viewer.Role),
	)
}

// archiveSource uploads the submitted source to object storage. Failures
// are logged, never surfaced; the archive is not on the judging path.
func (s *SubmitService) archiveSource(ctx context.Context, submissionID, code string) {
	if s.storage == nil {
		return
	}
	key := fmt.Sprintf("%s/%s/source.code", s.sourceKeyPrefix, submissionID)
	reader := io.Reader(strings.NewReader(code))
	err := s.storage.PutObject(ctx, s.sourceBucket, key, reader, int64(len(code)), "text/plain; charset=utf-8")
	if err != nil {
		logger.Warn(ctx, "archive source failed",
			zap.String("submission_id", submissionID), zap.Error(err))
	}
}
