package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"arenaoj/internal/common/db"
	"arenaoj/internal/judge/model"
)

var ErrSubmissionNotFound = errors.New("submission not found")

// SubmissionRepository is the append-only submission log.
type SubmissionRepository interface {
	// Create records a new submission. Replaying the same id is not an error.
	Create(ctx context.Context, sub *model.Submission, sourceKey string) error
	// AppendResult records a terminal outcome and stamps the submission row with it.
	// Replaying the same id is not an error.
	AppendResult(ctx context.Context, sub *model.Submission) error
}

// MySQLSubmissionRepository writes the submissions and submission_results tables.
type MySQLSubmissionRepository struct {
	db db.Database
}

// NewSubmissionRepository creates a MySQL submission repository.
func NewSubmissionRepository(database db.Database) *MySQLSubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

func (r *MySQLSubmissionRepository) Create(ctx context.Context, sub *model.Submission, sourceKey string) error {
	if sub == nil || sub.ID == "" {
		return errors.New("submission id is required")
	}
	query := `
		INSERT INTO submissions
		(submission_id, problem_id, submitter_id, language, source_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(ctx, query, sub.ID, sub.ProblemID, sub.SubmitterID, sub.Language, sourceKey, sub.CreatedAt)
	_, err = db.InsertOnce(ctx, "submissions", err)
	return err
}

func (r *MySQLSubmissionRepository) AppendResult(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.ID == "" {
		return errors.New("submission id is required")
	}
	results, err := json.Marshal(sub.Results)
	if err != nil {
		return fmt.Errorf("marshal results failed: %w", err)
	}
	return r.db.Transaction(ctx, func(tx db.Transaction) error {
		q := db.QuerierFor(r.db, tx)
		insert := `
			INSERT INTO submission_results
			(submission_id, status, verdict, error_message, total_tests, passed_tests, results, attempts, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := q.Exec(ctx, insert,
			sub.ID,
			string(sub.Status),
			string(sub.Verdict),
			sub.Error,
			sub.TotalTests,
			countPassed(sub.Results),
			string(results),
			sub.Attempts,
			sub.FinishedAt,
		)
		replayed, err := db.InsertOnce(ctx, "submission_results", err)
		if err != nil || replayed {
			return err
		}
		update := `UPDATE submissions SET final_status = ?, finished_at = ? WHERE submission_id = ?`
		_, err = q.Exec(ctx, update, string(sub.Status), sub.FinishedAt, sub.ID)
		return err
	})
}

func countPassed(results []model.TestResult) int {
	n := 0
	for _, r := range results {
		if r.Verdict == model.VerdictPassed {
			n++
		}
	}
	return n
}

// MemorySubmissionRepository keeps the log in process for single-node runs and tests.
type MemorySubmissionRepository struct {
	mu      sync.Mutex
	created map[string]model.Submission
	results map[string]model.Submission
}

// NewMemorySubmissionRepository creates an empty in-memory log.
func NewMemorySubmissionRepository() *MemorySubmissionRepository {
	return &MemorySubmissionRepository{
		created: make(map[string]model.Submission),
		results: make(map[string]model.Submission),
	}
}

func (r *MemorySubmissionRepository) Create(ctx context.Context, sub *model.Submission, sourceKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.created[sub.ID]; !ok {
		r.created[sub.ID] = *sub.Clone()
	}
	return nil
}

func (r *MemorySubmissionRepository) AppendResult(ctx context.Context, sub *model.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.results[sub.ID]; !ok {
		r.results[sub.ID] = *sub.Clone()
	}
	return nil
}

// Created returns the submission as it was logged at submit time.
func (r *MemorySubmissionRepository) Created(id string) (model.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.created[id]
	if !ok {
		return model.Submission{}, ErrSubmissionNotFound
	}
	return sub, nil
}

// Result returns the recorded outcome of a submission.
func (r *MemorySubmissionRepository) Result(id string) (model.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.results[id]
	if !ok {
		return model.Submission{}, ErrSubmissionNotFound
	}
	return sub, nil
}
