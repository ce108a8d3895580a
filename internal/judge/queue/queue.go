package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"minoj/internal/common/cache"
	"minoj/internal/judge/sandbox"
	judgesvc "minoj/internal/judge/service"
	submitrepo "minoj/internal/submit/repository"
	appErr "minoj/pkg/errors"
	"minoj/pkg/utils/logger"
)

const (
	// QueueKey is the redis list backing the FIFO judge queue. Producers
	// push to the head, workers pop from the tail.
	QueueKey = "judge_queue"

	inFlightKeyPrefix   = "judge_inflight:"
	defaultPollInterval = 500 * time.Millisecond
	inFlightTTL         = 10 * time.Minute
)

// Judger runs the judge pipeline for one submission.
type Judger interface {
	Judge(ctx context.Context, req judgesvc.Request) ([]sandbox.TestResult, error)
}

// Queue is the durable judge work queue plus its worker pool. Tasks are
// JSON objects on a redis list. A task popped for a submission whose
// in-flight lock is held goes back on the list; a popped task that
// crashes with its worker is lost.
type Queue struct {
	cache        cache.Cache
	submissions  submitrepo.SubmissionRepository
	resolves     submitrepo.ResolveRepository
	judger       Judger
	workers      int
	pollInterval time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// Config holds queue dependencies and settings.
type Config struct {
	Cache        cache.Cache
	Submissions  submitrepo.SubmissionRepository
	Resolves     submitrepo.ResolveRepository
	Judger       Judger
	Workers      int
	PollInterval time.Duration
}

func New(cfg Config) (*Queue, error) {
	if cfg.Cache == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("cache is required")
	}
	if cfg.Submissions == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("submission repository is required")
	}
	if cfg.Resolves == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("resolve repository is required")
	}
	if cfg.Judger == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("judger is required")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Queue{
		cache:        cfg.Cache,
		submissions:  cfg.Submissions,
		resolves:     cfg.Resolves,
		judger:       cfg.Judger,
		workers:      workers,
		pollInterval: pollInterval,
	}, nil
}

// EnqueueJudge persists a new PENDING submission and pushes its judge
// task. The submission row is visible before the task can be observed
// by any worker. Returns the generated submission id.
func (q *Queue) EnqueueJudge(ctx context.Context, userID int64, problemID, language, code string, submissionTime time.Time) (string, error) {
	var submissionID string
	for {
		submissionID = uuid.NewString()
		created, err := q.submissions.CreatePending(ctx, nil, &submitrepo.Submission{
			SubmissionID:   submissionID,
			UserID:         userID,
			ProblemID:      problemID,
			SubmissionTime: submissionTime,
			Language:       language,
			Code:           code,
		})
		if err != nil {
			return "", appErr.Wrapf(err, appErr.SubmissionCreateFailed, "persist submission")
		}
		if created {
			break
		}
		// id collision, try a fresh one
	}

	if err := q.push(ctx, Task{
		Type:         TaskTypeJudge,
		SubmissionID: submissionID,
		ProblemID:    problemID,
		UserID:       userID,
		Language:     language,
		Code:         code,
	}); err != nil {
		return "", err
	}
	return submissionID, nil
}

// EnqueueRejudge resets an existing submission to PENDING and pushes a
// rejudge task for it.
func (q *Queue) EnqueueRejudge(ctx context.Context, submissionID string) error {
	submission, err := q.submissions.Get(ctx, nil, submissionID)
	if err != nil {
		return appErr.Wrapf(err, appErr.SubmissionNotFound, "load submission %s", submissionID)
	}
	if err := q.submissions.UpdateStatus(ctx, submissionID, submitrepo.StatusPending, nil, nil, nil); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "reset submission %s", submissionID)
	}
	return q.push(ctx, Task{
		Type:         TaskTypeRejudge,
		SubmissionID: submission.SubmissionID,
		ProblemID:    submission.ProblemID,
		UserID:       submission.UserID,
		Language:     submission.Language,
		Code:         submission.Code,
	})
}

func (q *Queue) push(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode task")
	}
	if err := q.cache.LPush(ctx, QueueKey, string(payload)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "push task")
	}
	return nil
}

// Start launches the worker pool. Calling Start on a running queue is a
// no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	group, workerCtx := errgroup.WithContext(workerCtx)
	for i := 0; i < q.workers; i++ {
		worker := i
		group.Go(func() error {
			q.workerLoop(workerCtx, worker)
			return nil
		})
	}
	q.started = true
	q.cancel = cancel
	q.group = group
	logger.Info(ctx, "judge workers started", zap.Int("workers", q.workers))
}

// Stop cancels the workers and waits for in-progress judges to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	cancel := q.cancel
	group := q.group
	q.started = false
	q.cancel = nil
	q.group = nil
	q.mu.Unlock()

	cancel()
	_ = group.Wait()
}

func (q *Queue) workerLoop(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := q.cache.RPop(ctx, QueueKey)
		if err != nil {
			logger.Warn(ctx, "pop judge task failed", zap.Int("worker", worker), zap.Error(err))
			payload = ""
		}
		if payload == "" {
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.pollInterval):
			}
			continue
		}
		if requeued := q.process(ctx, worker, payload); requeued {
			// back off before the next pop so a lone requeued task
			// does not spin against its own in-flight lock
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.pollInterval):
			}
		}
	}
}

// process handles one popped payload. It returns true when the task
// was pushed back because its submission is already being judged.
func (q *Queue) process(ctx context.Context, worker int, payload string) bool {
	var task Task
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		logger.Error(ctx, "drop malformed judge task", zap.Int("worker", worker), zap.Error(err))
		return false
	}
	if task.SubmissionID == "" {
		logger.Error(ctx, "drop judge task without submission id", zap.Int("worker", worker))
		return false
	}

	lockKey := inFlightKeyPrefix + task.SubmissionID
	acquired, err := q.cache.TryLock(ctx, lockKey, inFlightTTL)
	if err != nil {
		logger.Warn(ctx, "acquire in-flight lock failed",
			zap.String("submission_id", task.SubmissionID), zap.Error(err))
		return false
	}
	if !acquired {
		// a rejudge can race the judge still holding the lock; keep the
		// task queued so it runs once the lock is released
		logger.Info(ctx, "submission already being judged, task requeued",
			zap.String("submission_id", task.SubmissionID))
		if err := q.cache.LPush(ctx, QueueKey, payload); err != nil {
			logger.Error(ctx, "requeue in-flight task failed",
				zap.String("submission_id", task.SubmissionID), zap.Error(err))
			return false
		}
		return true
	}
	defer func() { _ = q.cache.Unlock(ctx, lockKey) }()

	q.dispatch(ctx, task)
	return false
}

// dispatch runs the judge pipeline and persists the outcome. Every
// failure path ends in ERROR; nothing is requeued.
func (q *Queue) dispatch(ctx context.Context, task Task) {
	results, err := q.judger.Judge(ctx, judgesvc.Request{
		SubmissionID: task.SubmissionID,
		ProblemID:    task.ProblemID,
		Language:     task.Language,
		Code:         task.Code,
	})
	if err != nil {
		q.fail(ctx, task.SubmissionID, err)
		return
	}

	score, counts, tests := judgesvc.Aggregate(results)
	if err := q.submissions.UpdateStatus(ctx, task.SubmissionID, submitrepo.StatusSuccess, &score, &counts, tests); err != nil {
		q.fail(ctx, task.SubmissionID, err)
		return
	}

	passed := score == counts
	if _, err := q.resolves.UpsertResolve(ctx, task.ProblemID, task.UserID, task.Language, passed); err != nil {
		q.fail(ctx, task.SubmissionID, err)
		return
	}

	logger.Info(ctx, "submission judged",
		zap.String("submission_id", task.SubmissionID),
		zap.Int64("score", score),
		zap.Int64("counts", counts))
}

func (q *Queue) fail(ctx context.Context, submissionID string, cause error) {
	logger.Error(ctx, "judge failed",
		zap.String("submission_id", submissionID), zap.Error(cause))
	if err := q.submissions.UpdateStatus(ctx, submissionID, submitrepo.StatusError, nil, nil, nil); err != nil {
		logger.Error(ctx, "mark submission as error failed",
			zap.String("submission_id", submissionID), zap.Error(err))
	}
}
