package queue

// TaskType distinguishes fresh judges from rejudges. Both run the same
// pipeline; a rejudge's submission already exists in PENDING form when
// the worker picks it up.
type TaskType string

const (
	TaskTypeJudge   TaskType = "judge"
	TaskTypeRejudge TaskType = "rejudge"
)

// Task is the JSON payload carried on the judge queue list. UserID
// travels as a decimal string on the wire.
type Task struct {
	Type         TaskType `json:"type"`
	SubmissionID string   `json:"submission_id"`
	ProblemID    string   `json:"problem_id"`
	UserID       int64    `json:"user_id,string"`
	Language     string   `json:"language"`
	Code         string   `json:"code"`
}
