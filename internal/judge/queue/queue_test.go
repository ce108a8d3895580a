package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"minoj/internal/common/cache"
	"minoj/internal/common/db"
	"minoj/internal/judge/sandbox"
	judgesvc "minoj/internal/judge/service"
	submitrepo "minoj/internal/submit/repository"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, cache.Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

type fakeSubmissions struct {
	mu          sync.Mutex
	rows        map[string]*submitrepo.Submission
	tests       map[string][]submitrepo.TestRecord
	failCreates int
}

func newFakeSubmissions() *fakeSubmissions {
	return &fakeSubmissions{
		rows:  make(map[string]*submitrepo.Submission),
		tests: make(map[string][]submitrepo.TestRecord),
	}
}

func (f *fakeSubmissions) CreatePending(ctx context.Context, tx db.Transaction, submission *submitrepo.Submission) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreates > 0 {
		f.failCreates--
		return false, nil
	}
	if _, ok := f.rows[submission.SubmissionID]; ok {
		return false, nil
	}
	clone := *submission
	clone.Status = submitrepo.StatusPending
	f.rows[submission.SubmissionID] = &clone
	return true, nil
}

func (f *fakeSubmissions) Get(ctx context.Context, tx db.Transaction, submissionID string) (*submitrepo.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	submission, ok := f.rows[submissionID]
	if !ok {
		return nil, submitrepo.ErrSubmissionNotFound
	}
	clone := *submission
	return &clone, nil
}

func (f *fakeSubmissions) GetWithTests(ctx context.Context, tx db.Transaction, submissionID string) (*submitrepo.Submission, []submitrepo.TestRecord, error) {
	submission, err := f.Get(ctx, tx, submissionID)
	if err != nil {
		return nil, nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return submission, f.tests[submissionID], nil
}

func (f *fakeSubmissions) UpdateStatus(ctx context.Context, submissionID string, status submitrepo.Status, score, counts *int64, tests []submitrepo.TestRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	submission, ok := f.rows[submissionID]
	if !ok {
		return submitrepo.ErrSubmissionNotFound
	}
	submission.Status = status
	submission.Score = score
	submission.Counts = counts
	if tests != nil {
		f.tests[submissionID] = tests
	}
	return nil
}

func (f *fakeSubmissions) List(ctx context.Context, filter submitrepo.ListFilter, page, pageSize int64) (*submitrepo.ListPage, error) {
	return &submitrepo.ListPage{}, nil
}

func (f *fakeSubmissions) status(submissionID string) submitrepo.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if submission, ok := f.rows[submissionID]; ok {
		return submission.Status
	}
	return ""
}

type resolveCall struct {
	problemID string
	userID    int64
	language  string
	passed    bool
}

type fakeResolves struct {
	mu       sync.Mutex
	resolved map[string]bool
	calls    []resolveCall
	flips    int
	err      error
}

func newFakeResolves() *fakeResolves {
	return &fakeResolves{resolved: make(map[string]bool)}
}

func (f *fakeResolves) UpsertResolve(ctx context.Context, problemID string, userID int64, language string, passed bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.calls = append(f.calls, resolveCall{problemID: problemID, userID: userID, language: language, passed: passed})
	key := problemID + "/" + language
	if !f.resolved[key] && passed {
		f.resolved[key] = true
		f.flips++
		return true, nil
	}
	return false, nil
}

func (f *fakeResolves) Get(ctx context.Context, tx db.Transaction, problemID string, userID int64, language string) (*submitrepo.ResolveRecord, error) {
	return nil, nil
}

type fakeJudger struct {
	mu      sync.Mutex
	results []sandbox.TestResult
	err     error
	calls   []judgesvc.Request
}

func (f *fakeJudger) Judge(ctx context.Context, req judgesvc.Request) ([]sandbox.TestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeJudger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestQueue(t *testing.T, c cache.Cache, submissions *fakeSubmissions, resolves *fakeResolves, judger *fakeJudger) *Queue {
	t.Helper()
	q, err := New(Config{
		Cache:        c,
		Submissions:  submissions,
		Resolves:     resolves,
		Judger:       judger,
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue failed: %v", err)
	}
	return q
}

func TestEnqueueJudgePersistsPendingBeforePush(t *testing.T) {
	mr, c := newTestCache(t)
	submissions := newFakeSubmissions()
	q := newTestQueue(t, c, submissions, newFakeResolves(), &fakeJudger{})

	submissionID, err := q.EnqueueJudge(context.Background(), 7, "p1", "python3", "print(1)", time.Now())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if submissions.status(submissionID) != submitrepo.StatusPending {
		t.Fatalf("submission is not pending after enqueue")
	}

	payloads, err := mr.List(QueueKey)
	if err != nil {
		t.Fatalf("read queue: %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("expected 1 task, got %d", len(payloads))
	}
	var task Task
	if err := json.Unmarshal([]byte(payloads[0]), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.Type != TaskTypeJudge || task.SubmissionID != submissionID || task.UserID != 7 ||
		task.ProblemID != "p1" || task.Language != "python3" || task.Code != "print(1)" {
		t.Fatalf("unexpected task: %+v", task)
	}

	var wire map[string]interface{}
	if err := json.Unmarshal([]byte(payloads[0]), &wire); err != nil {
		t.Fatalf("decode raw task: %v", err)
	}
	if userID, ok := wire["user_id"].(string); !ok || userID != "7" {
		t.Fatalf("user_id on the wire = %v, want the string \"7\"", wire["user_id"])
	}
}

func TestEnqueueJudgeRetriesOnIDCollision(t *testing.T) {
	mr, c := newTestCache(t)
	submissions := newFakeSubmissions()
	submissions.failCreates = 2
	q := newTestQueue(t, c, submissions, newFakeResolves(), &fakeJudger{})

	submissionID, err := q.EnqueueJudge(context.Background(), 7, "p1", "python3", "x", time.Now())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if submissionID == "" {
		t.Fatal("expected a submission id")
	}
	payloads, err := mr.List(QueueKey)
	if err != nil {
		t.Fatalf("read queue: %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("expected exactly 1 task after retries, got %d", len(payloads))
	}
}

func TestDispatchSuccessUpdatesStatusAndResolve(t *testing.T) {
	_, c := newTestCache(t)
	submissions := newFakeSubmissions()
	resolves := newFakeResolves()
	judger := &fakeJudger{results: []sandbox.TestResult{
		{Verdict: sandbox.VerdictAC, TimeMs: 10, MemoryKB: 100},
		{Verdict: sandbox.VerdictAC, TimeMs: 12, MemoryKB: 120},
	}}
	q := newTestQueue(t, c, submissions, resolves, judger)

	submissionID, err := q.EnqueueJudge(context.Background(), 7, "p1", "python3", "x", time.Now())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	q.dispatch(context.Background(), Task{
		Type:         TaskTypeJudge,
		SubmissionID: submissionID,
		ProblemID:    "p1",
		UserID:       7,
		Language:     "python3",
		Code:         "x",
	})

	submission, tests, err := submissions.GetWithTests(context.Background(), nil, submissionID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if submission.Status != submitrepo.StatusSuccess {
		t.Fatalf("status = %s, want success", submission.Status)
	}
	if submission.Score == nil || *submission.Score != 20 {
		t.Fatalf("score = %v, want 20", submission.Score)
	}
	if submission.Counts == nil || *submission.Counts != 20 {
		t.Fatalf("counts = %v, want 20", submission.Counts)
	}
	if len(tests) != 2 || tests[0].Ordinal != 1 || tests[1].Ordinal != 2 {
		t.Fatalf("unexpected tests: %+v", tests)
	}
	if len(resolves.calls) != 1 || !resolves.calls[0].passed {
		t.Fatalf("expected one passed resolve call, got %+v", resolves.calls)
	}
}

func TestDispatchPartialScoreDoesNotPass(t *testing.T) {
	_, c := newTestCache(t)
	submissions := newFakeSubmissions()
	resolves := newFakeResolves()
	judger := &fakeJudger{results: []sandbox.TestResult{
		{Verdict: sandbox.VerdictAC},
		{Verdict: sandbox.VerdictWA},
	}}
	q := newTestQueue(t, c, submissions, resolves, judger)

	submissionID, err := q.EnqueueJudge(context.Background(), 7, "p1", "python3", "x", time.Now())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	q.dispatch(context.Background(), Task{SubmissionID: submissionID, ProblemID: "p1", UserID: 7, Language: "python3"})

	if len(resolves.calls) != 1 || resolves.calls[0].passed {
		t.Fatalf("expected one failed resolve call, got %+v", resolves.calls)
	}
}

func TestDispatchJudgeErrorMarksSubmissionError(t *testing.T) {
	_, c := newTestCache(t)
	submissions := newFakeSubmissions()
	resolves := newFakeResolves()
	judger := &fakeJudger{err: errors.New("sandbox exploded")}
	q := newTestQueue(t, c, submissions, resolves, judger)

	submissionID, err := q.EnqueueJudge(context.Background(), 7, "p1", "python3", "x", time.Now())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	q.dispatch(context.Background(), Task{SubmissionID: submissionID, ProblemID: "p1", UserID: 7, Language: "python3"})

	submission, _ := submissions.Get(context.Background(), nil, submissionID)
	if submission.Status != submitrepo.StatusError {
		t.Fatalf("status = %s, want error", submission.Status)
	}
	if submission.Score != nil || submission.Counts != nil {
		t.Fatalf("score and counts must stay null on error")
	}
	if len(resolves.calls) != 0 {
		t.Fatalf("resolve must not run after a judge failure")
	}
}

func TestDispatchRejudgeKeepsResolveMonotonic(t *testing.T) {
	_, c := newTestCache(t)
	submissions := newFakeSubmissions()
	resolves := newFakeResolves()
	judger := &fakeJudger{results: []sandbox.TestResult{{Verdict: sandbox.VerdictAC}}}
	q := newTestQueue(t, c, submissions, resolves, judger)

	submissionID, err := q.EnqueueJudge(context.Background(), 7, "p1", "python3", "x", time.Now())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	task := Task{Type: TaskTypeRejudge, SubmissionID: submissionID, ProblemID: "p1", UserID: 7, Language: "python3"}

	q.dispatch(context.Background(), task)
	q.dispatch(context.Background(), task)

	if resolves.flips != 1 {
		t.Fatalf("resolve flipped %d times, want exactly once", resolves.flips)
	}
}

func TestEnqueueRejudgeResetsToPending(t *testing.T) {
	mr, c := newTestCache(t)
	submissions := newFakeSubmissions()
	q := newTestQueue(t, c, submissions, newFakeResolves(), &fakeJudger{})

	submissionID, err := q.EnqueueJudge(context.Background(), 7, "p1", "python3", "x", time.Now())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	score := int64(10)
	counts := int64(10)
	judged := []submitrepo.TestRecord{{Ordinal: 1, Result: "AC", TimeMs: 10, MemoryKB: 100}}
	if err := submissions.UpdateStatus(context.Background(), submissionID, submitrepo.StatusSuccess, &score, &counts, judged); err != nil {
		t.Fatalf("seed success: %v", err)
	}

	if err := q.EnqueueRejudge(context.Background(), submissionID); err != nil {
		t.Fatalf("rejudge failed: %v", err)
	}
	if submissions.status(submissionID) != submitrepo.StatusPending {
		t.Fatalf("status = %s, want pending", submissions.status(submissionID))
	}

	// the previous verdict log stays readable until the worker writes
	// replacement rows
	_, tests, err := submissions.GetWithTests(context.Background(), nil, submissionID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if len(tests) != 1 || tests[0].Result != "AC" {
		t.Fatalf("test log after rejudge reset = %+v, want the prior rows", tests)
	}

	payloads, err := mr.List(QueueKey)
	if err != nil {
		t.Fatalf("read queue: %v", err)
	}
	if len(payloads) != 2 {
		t.Fatalf("queue length = %d, want 2", len(payloads))
	}
	// newest entry is pushed to the head, so the rejudge task sits at
	// index 0 ahead of the original judge task
	var task Task
	if err := json.Unmarshal([]byte(payloads[0]), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.Type != TaskTypeRejudge || task.SubmissionID != submissionID {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestEnqueueRejudgeUnknownSubmission(t *testing.T) {
	_, c := newTestCache(t)
	q := newTestQueue(t, c, newFakeSubmissions(), newFakeResolves(), &fakeJudger{})
	if err := q.EnqueueRejudge(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown submission")
	}
}

func TestProcessRequeuesInFlightSubmission(t *testing.T) {
	mr, c := newTestCache(t)
	submissions := newFakeSubmissions()
	judger := &fakeJudger{}
	q := newTestQueue(t, c, submissions, newFakeResolves(), judger)

	submissionID, err := q.EnqueueJudge(context.Background(), 7, "p1", "python3", "x", time.Now())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	acquired, err := c.TryLock(context.Background(), inFlightKeyPrefix+submissionID, time.Minute)
	if err != nil || !acquired {
		t.Fatalf("seed lock: %v acquired=%v", err, acquired)
	}

	popped, err := c.RPop(context.Background(), QueueKey)
	if err != nil || popped == "" {
		t.Fatalf("pop seeded task: %v", err)
	}
	if requeued := q.process(context.Background(), 0, popped); !requeued {
		t.Fatal("expected the task to be requeued while the lock is held")
	}

	if judger.callCount() != 0 {
		t.Fatalf("locked submission must not be judged")
	}
	if submissions.status(submissionID) != submitrepo.StatusPending {
		t.Fatalf("locked submission status changed to %s", submissions.status(submissionID))
	}
	payloads, err := mr.List(QueueKey)
	if err != nil {
		t.Fatalf("read queue: %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("expected the task back on the queue, got %d entries", len(payloads))
	}

	if err := c.Unlock(context.Background(), inFlightKeyPrefix+submissionID); err != nil {
		t.Fatalf("release lock: %v", err)
	}
	if requeued := q.process(context.Background(), 0, payloads[0]); requeued {
		t.Fatal("task must run once the lock is released")
	}
	if judger.callCount() != 1 {
		t.Fatalf("judger calls = %d, want 1 after the lock is released", judger.callCount())
	}
}

func TestWorkersDrainQueue(t *testing.T) {
	_, c := newTestCache(t)
	submissions := newFakeSubmissions()
	resolves := newFakeResolves()
	judger := &fakeJudger{results: []sandbox.TestResult{{Verdict: sandbox.VerdictAC}}}
	q := newTestQueue(t, c, submissions, resolves, judger)

	submissionID, err := q.EnqueueJudge(context.Background(), 7, "p1", "python3", "x", time.Now())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	q.Start(context.Background())
	defer q.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if submissions.status(submissionID) == submitrepo.StatusSuccess {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("submission never reached success, status = %s", submissions.status(submissionID))
}
