package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/classworks/edumarket-api/internal/models"
	appErrors "github.com/classworks/edumarket-api/pkg/errors"
)

type testRepository interface {
	FindByID(ctx context.Context, id string) (*models.Test, error)
	Create(ctx context.Context, test *models.Test) error
	ListAssignments(ctx context.Context, testID string) ([]models.TestAssignment, error)
	AssignedStudentIDs(ctx context.Context, testID string, studentIDs []string) (map[string]bool, error)
	InsertAssignments(ctx context.Context, testID string, studentIDs []string) error
	RecordMarks(ctx context.Context, testID, studentID string, marks float64, evaluatedAt time.Time) (int64, error)
	RecordSubmission(ctx context.Context, testID, studentID string, submittedAt time.Time) (int64, error)
}

type batchReader interface {
	FindByID(ctx context.Context, id string) (*models.Batch, error)
	ListSubjects(ctx context.Context, batchID string) ([]models.BatchSubject, error)
}

// CreateTestRequest describes a new assessment scoped to a batch class/subject.
type CreateTestRequest struct {
	BatchID     string    `json:"batch_id" validate:"required"`
	ClassName   string    `json:"class_name" validate:"required"`
	SubjectName string    `json:"subject_name" validate:"required"`
	Title       string    `json:"title" validate:"required,min=3,max=200"`
	FullMarks   float64   `json:"full_marks" validate:"required,gt=0"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

// AssignTestStudentsRequest names the students to place on a test roster.
type AssignTestStudentsRequest struct {
	StudentIDs []string `json:"student_ids" validate:"required,min=1,dive,required"`
}

// RecordMarksRequest carries an evaluation result.
type RecordMarksRequest struct {
	StudentID string  `json:"student_id" validate:"required"`
	Marks     float64 `json:"marks" validate:"gte=0"`
}

// AssignTestStudentsResult reports roster additions.
type AssignTestStudentsResult struct {
	Assigned []string `json:"assigned"`
	Skipped  []string `json:"skipped"`
}

// TestService manages test rosters and evaluation. Roster membership is
// derived from batch eligibility and enforced at assignment time only.
type TestService struct {
	repo        testRepository
	batches     batchReader
	eligibility eligibilityChecker
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewTestService constructs TestService.
func NewTestService(repo testRepository, batches batchReader, eligibility eligibilityChecker, validate *validator.Validate, logger *zap.Logger) *TestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TestService{repo: repo, batches: batches, eligibility: eligibility, validator: validate, logger: logger}
}

// Create validates the class and subject against the owning batch and stores
// the test.
func (s *TestService) Create(ctx context.Context, creatorID string, req CreateTestRequest) (*models.Test, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid test payload")
	}

	batch, err := s.batches.FindByID(ctx, req.BatchID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	if !batch.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "batch is inactive")
	}

	className := strings.TrimSpace(req.ClassName)
	if !containsLabel(batch.Classes, className) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("class %q is not part of the batch", className))
	}

	subjects, err := s.batches.ListSubjects(ctx, batch.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list batch subjects")
	}
	subjectName := strings.TrimSpace(req.SubjectName)
	if !subjectExists(subjects, subjectName) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("subject %q is not part of the batch", subjectName))
	}

	test := &models.Test{
		BatchID:     batch.ID,
		ClassName:   className,
		SubjectName: subjectName,
		Title:       strings.TrimSpace(req.Title),
		FullMarks:   req.FullMarks,
		ScheduledAt: req.ScheduledAt,
		CreatedBy:   creatorID,
	}
	if err := s.repo.Create(ctx, test); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create test")
	}
	return test, nil
}

// AssignStudents places students on the roster. Every requested student must
// be eligible for the test's class and subject or the whole call fails with
// no roster change. Students already on the roster are skipped.
func (s *TestService) AssignStudents(ctx context.Context, testID string, req AssignTestStudentsRequest) (*AssignTestStudentsResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid roster payload")
	}

	test, err := s.loadTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	eligible, err := s.eligibility.EligibleStudents(ctx, test.BatchID, test.ClassName, test.SubjectName)
	if err != nil {
		return nil, err
	}
	eligibleSet := make(map[string]bool, len(eligible))
	for _, id := range eligible {
		eligibleSet[id] = true
	}

	var ineligible []string
	for _, id := range req.StudentIDs {
		if !eligibleSet[id] {
			ineligible = append(ineligible, id)
		}
	}
	if len(ineligible) > 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("students not eligible for this test: %s", strings.Join(ineligible, ", ")))
	}

	assigned, err := s.repo.AssignedStudentIDs(ctx, testID, req.StudentIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check roster")
	}

	result := &AssignTestStudentsResult{}
	seen := make(map[string]bool, len(req.StudentIDs))
	var toInsert []string
	for _, id := range req.StudentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if assigned[id] {
			result.Skipped = append(result.Skipped, id)
			continue
		}
		toInsert = append(toInsert, id)
	}

	if len(toInsert) > 0 {
		if err := s.repo.InsertAssignments(ctx, testID, toInsert); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign students")
		}
		result.Assigned = toInsert
	}
	return result, nil
}

// RecordSubmission marks a roster entry as submitted.
func (s *TestService) RecordSubmission(ctx context.Context, testID, studentID string) error {
	if _, err := s.loadTest(ctx, testID); err != nil {
		return err
	}
	updated, err := s.repo.RecordSubmission(ctx, testID, studentID, time.Now().UTC())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record submission")
	}
	if updated == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "student is not on the test roster")
	}
	return nil
}

// RecordMarks evaluates one roster entry. Marks are bounded by the test's
// full marks.
func (s *TestService) RecordMarks(ctx context.Context, testID string, req RecordMarksRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid marks payload")
	}

	test, err := s.loadTest(ctx, testID)
	if err != nil {
		return err
	}
	if req.Marks > test.FullMarks {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("marks %.2f exceed full marks %.2f", req.Marks, test.FullMarks))
	}

	updated, err := s.repo.RecordMarks(ctx, testID, req.StudentID, req.Marks, time.Now().UTC())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record marks")
	}
	if updated == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "student is not on the test roster")
	}
	return nil
}

// Get returns one test.
func (s *TestService) Get(ctx context.Context, testID string) (*models.Test, error) {
	return s.loadTest(ctx, testID)
}

// Roster returns the test's assignments.
func (s *TestService) Roster(ctx context.Context, testID string) ([]models.TestAssignment, error) {
	if _, err := s.loadTest(ctx, testID); err != nil {
		return nil, err
	}
	assignments, err := s.repo.ListAssignments(ctx, testID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list roster")
	}
	return assignments, nil
}

// Statistics recomputes roster aggregates on every call.
func (s *TestService) Statistics(ctx context.Context, testID string) (*models.TestStatistics, error) {
	test, err := s.loadTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.repo.ListAssignments(ctx, testID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list roster")
	}
	return computeStatistics(test, assignments), nil
}

func (s *TestService) loadTest(ctx context.Context, id string) (*models.Test, error) {
	test, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "test not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load test")
	}
	return test, nil
}

const passThresholdPercent = 40.0

func computeStatistics(test *models.Test, assignments []models.TestAssignment) *models.TestStatistics {
	stats := &models.TestStatistics{TestID: test.ID, AssignedCount: len(assignments)}

	var sum float64
	first := true
	for _, a := range assignments {
		if a.SubmittedAt != nil {
			stats.SubmittedCount++
		}
		if a.MarksScored == nil {
			continue
		}
		marks := *a.MarksScored
		stats.EvaluatedCount++
		sum += marks
		if first || marks > stats.HighestMarks {
			stats.HighestMarks = marks
		}
		if first || marks < stats.LowestMarks {
			stats.LowestMarks = marks
		}
		first = false
		if test.FullMarks > 0 && marks*100/test.FullMarks >= passThresholdPercent {
			stats.PassCount++
		}
	}
	if stats.EvaluatedCount > 0 {
		stats.AverageMarks = sum / float64(stats.EvaluatedCount)
		if test.FullMarks > 0 {
			stats.AveragePercent = stats.AverageMarks * 100 / test.FullMarks
		}
	}
	return stats
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

func subjectExists(subjects []models.BatchSubject, name string) bool {
	for _, s := range subjects {
		if s.Name == name {
			return true
		}
	}
	return false
}
