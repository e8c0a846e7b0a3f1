package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/classworks/edumarket-api/internal/models"
	appErrors "github.com/classworks/edumarket-api/pkg/errors"
)

type batchRepository interface {
	FindByID(ctx context.Context, id string) (*models.Batch, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	List(ctx context.Context, filter models.BatchFilter) ([]models.Batch, int, error)
	Create(ctx context.Context, batch *models.Batch, subjects []models.BatchSubject) error
	ListSubjects(ctx context.Context, batchID string) ([]models.BatchSubject, error)
	FindSubjectByID(ctx context.Context, batchID, subjectID string) (*models.BatchSubject, error)
	ListAssignments(ctx context.Context, batchID string) ([]models.StudentAssignment, error)
	AssignedStudentIDs(ctx context.Context, batchID string, studentIDs []string) (map[string]bool, error)
	InsertAssignments(ctx context.Context, assignments []models.StudentAssignment) error
	RemoveStudents(ctx context.Context, batchID string, studentIDs []string) (int64, error)
	UpdateSubjectTeacher(ctx context.Context, batchID, subjectID string, teacherID, teacherName *string) error
	EligibleStudents(ctx context.Context, batchID, className, subjectName string) ([]string, error)
	Deactivate(ctx context.Context, id string) error
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]models.User, error)
}

type cacheObserver interface {
	RecordCacheOperation(hit bool)
}

type eligibilityCache interface {
	Get(ctx context.Context, batchID, className, subjectName string) ([]string, error)
	Set(ctx context.Context, batchID, className, subjectName string, students []string) error
	InvalidateBatch(ctx context.Context, batchID string) error
}

// CreateBatchSubjectRequest describes one subject in a new batch.
type CreateBatchSubjectRequest struct {
	Name      string  `json:"name" validate:"required"`
	TeacherID *string `json:"teacher_id,omitempty"`
}

// CreateBatchRequest describes batch creation payload.
type CreateBatchRequest struct {
	Name     string                      `json:"name" validate:"required"`
	Classes  []string                    `json:"classes" validate:"required,min=1"`
	Subjects []CreateBatchSubjectRequest `json:"subjects"`
}

// StudentAssignmentRequest describes one student to assign.
type StudentAssignmentRequest struct {
	StudentID string   `json:"student_id" validate:"required"`
	Classes   []string `json:"classes" validate:"required,min=1"`
	Subjects  []string `json:"subjects" validate:"required,min=1"`
}

// AssignStudentsRequest is the bulk assignment payload.
type AssignStudentsRequest struct {
	Assignments []StudentAssignmentRequest `json:"assignments" validate:"required,min=1,dive"`
}

// AssignStudentsResult reports the outcome of a bulk assignment.
type AssignStudentsResult struct {
	Assigned int `json:"assigned"`
	Skipped  int `json:"skipped"`
}

// AssignTeacherRequest describes the teacher change payload.
type AssignTeacherRequest struct {
	TeacherID string `json:"teacher_id" validate:"required"`
}

// BatchService owns batch membership: classes, subjects, the teacher per
// subject and the student roster. It produces the eligibility sets the test
// and access subsystems consume.
type BatchService struct {
	repo      batchRepository
	users     userReader
	cache     eligibilityCache
	metrics   cacheObserver
	validator *validator.Validate
	logger    *zap.Logger
}

// NewBatchService constructs BatchService.
func NewBatchService(repo batchRepository, users userReader, cache eligibilityCache, metrics cacheObserver, validate *validator.Validate, logger *zap.Logger) *BatchService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchService{repo: repo, users: users, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

// Create registers a new batch after normalizing classes and subjects.
func (s *BatchService) Create(ctx context.Context, creatorID string, req CreateBatchRequest) (*models.BatchDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batch name must not be blank")
	}
	classes := normalizeLabels(req.Classes)
	if len(classes) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batch requires at least one class")
	}

	exists, err := s.repo.ExistsByName(ctx, name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check batch name")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "batch name already in use")
	}

	subjects := make([]models.BatchSubject, 0, len(req.Subjects))
	seen := make(map[string]bool, len(req.Subjects))
	for _, sub := range req.Subjects {
		subName := strings.TrimSpace(sub.Name)
		if subName == "" {
			continue
		}
		if seen[subName] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate subject %q", subName))
		}
		seen[subName] = true

		subject := models.BatchSubject{Name: subName}
		if sub.TeacherID != nil && *sub.TeacherID != "" {
			teacher, err := s.resolveTeacher(ctx, *sub.TeacherID)
			if err != nil {
				return nil, err
			}
			subject.TeacherID = &teacher.ID
			subject.TeacherName = &teacher.FullName
		}
		subjects = append(subjects, subject)
	}

	batch := &models.Batch{Name: name, Classes: classes, CreatedBy: creatorID}
	if err := s.repo.Create(ctx, batch, subjects); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create batch")
	}
	return s.Get(ctx, batch.ID)
}

// Get returns a batch with its subjects and roster.
func (s *BatchService) Get(ctx context.Context, batchID string) (*models.BatchDetail, error) {
	batch, err := s.loadBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	subjects, err := s.repo.ListSubjects(ctx, batchID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	assignments, err := s.repo.ListAssignments(ctx, batchID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	return &models.BatchDetail{Batch: *batch, Subjects: subjects, Assignments: assignments}, nil
}

// List returns batches with pagination metadata.
func (s *BatchService) List(ctx context.Context, filter models.BatchFilter) ([]models.Batch, *models.Pagination, error) {
	batches, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list batches")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return batches, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// AssignStudents validates and appends the requested roster entries. Students
// already on the roster are skipped, so repeating the call is harmless. An
// unknown class or subject rejects the whole request; nothing is applied.
func (s *BatchService) AssignStudents(ctx context.Context, batchID string, req AssignStudentsRequest) (*AssignStudentsResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}

	batch, err := s.loadBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !batch.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "batch is inactive")
	}

	subjects, err := s.repo.ListSubjects(ctx, batchID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	subjectsByName := make(map[string]models.BatchSubject, len(subjects))
	for _, sub := range subjects {
		subjectsByName[sub.Name] = sub
	}
	batchClasses := make(map[string]bool, len(batch.Classes))
	for _, class := range batch.Classes {
		batchClasses[class] = true
	}

	studentIDs := make([]string, 0, len(req.Assignments))
	for _, a := range req.Assignments {
		studentIDs = append(studentIDs, a.StudentID)
	}
	students, err := s.users.FindByIDs(ctx, studentIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load students")
	}

	// Validate the whole request before touching the roster.
	pending := make([]models.StudentAssignment, 0, len(req.Assignments))
	for _, a := range req.Assignments {
		student, ok := students[a.StudentID]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("student %s not found", a.StudentID))
		}
		if student.Role != models.RoleStudent {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("user %s is not a student", a.StudentID))
		}

		classes := normalizeLabels(a.Classes)
		for _, class := range classes {
			if !batchClasses[class] {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("class %q is not part of the batch", class))
			}
		}

		assignment := models.StudentAssignment{BatchID: batchID, StudentID: a.StudentID, Classes: classes}
		for _, name := range normalizeLabels(a.Subjects) {
			subject, ok := subjectsByName[name]
			if !ok {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("subject %q is not part of the batch", name))
			}
			assignment.Subjects = append(assignment.Subjects, models.AssignedSubject{
				SubjectID:   subject.ID,
				SubjectName: subject.Name,
				TeacherID:   subject.TeacherID,
				TeacherName: subject.TeacherName,
			})
		}
		pending = append(pending, assignment)
	}

	existing, err := s.repo.AssignedStudentIDs(ctx, batchID, studentIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check roster")
	}

	result := &AssignStudentsResult{}
	toInsert := make([]models.StudentAssignment, 0, len(pending))
	for _, assignment := range pending {
		if existing[assignment.StudentID] {
			result.Skipped++
			continue
		}
		toInsert = append(toInsert, assignment)
	}

	if err := s.repo.InsertAssignments(ctx, toInsert); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign students")
	}
	result.Assigned = len(toInsert)

	s.invalidate(ctx, batchID)
	return result, nil
}

// RemoveStudents drops matching roster entries and returns the removed count.
// Removing a student who was never assigned is not an error.
func (s *BatchService) RemoveStudents(ctx context.Context, batchID string, studentIDs []string) (int64, error) {
	if len(studentIDs) == 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "no students given")
	}
	if _, err := s.loadBatch(ctx, batchID); err != nil {
		return 0, err
	}
	removed, err := s.repo.RemoveStudents(ctx, batchID, studentIDs)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove students")
	}
	if removed > 0 {
		s.invalidate(ctx, batchID)
	}
	return removed, nil
}

// AssignTeacher sets the subject's teacher and refreshes every roster
// snapshot referencing the subject.
func (s *BatchService) AssignTeacher(ctx context.Context, batchID, subjectID string, req AssignTeacherRequest) (*models.BatchSubject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teacher payload")
	}
	if _, err := s.loadBatch(ctx, batchID); err != nil {
		return nil, err
	}
	if _, err := s.repo.FindSubjectByID(ctx, batchID, subjectID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}

	teacher, err := s.resolveTeacher(ctx, req.TeacherID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateSubjectTeacher(ctx, batchID, subjectID, &teacher.ID, &teacher.FullName); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign teacher")
	}

	subject, err := s.repo.FindSubjectByID(ctx, batchID, subjectID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	return subject, nil
}

// EligibleStudents computes which students may be attached to class/subject
// scoped artifacts. Consults the cache first; a miss recomputes from the
// store and repopulates it.
func (s *BatchService) EligibleStudents(ctx context.Context, batchID, className, subjectName string) ([]string, error) {
	if s.cache != nil {
		if students, err := s.cache.Get(ctx, batchID, className, subjectName); err == nil {
			s.recordCache(true)
			return students, nil
		}
		s.recordCache(false)
	}

	if _, err := s.loadBatch(ctx, batchID); err != nil {
		return nil, err
	}
	students, err := s.repo.EligibleStudents(ctx, batchID, className, subjectName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute eligibility")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, batchID, className, subjectName, students); err != nil {
			s.logger.Sugar().Warnw("eligibility cache write failed", "batch_id", batchID, "error", err)
		}
	}
	return students, nil
}

func (s *BatchService) recordCache(hit bool) {
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(hit)
	}
}

// Deactivate soft-deletes a batch, leaving referential children intact.
func (s *BatchService) Deactivate(ctx context.Context, batchID string) error {
	if err := s.repo.Deactivate(ctx, batchID); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate batch")
	}
	s.invalidate(ctx, batchID)
	return nil
}

func (s *BatchService) loadBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	batch, err := s.repo.FindByID(ctx, batchID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	return batch, nil
}

func (s *BatchService) resolveTeacher(ctx context.Context, teacherID string) (*models.User, error) {
	teacher, err := s.users.FindByID(ctx, teacherID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if teacher.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user is not a teacher")
	}
	if !teacher.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "teacher inactive")
	}
	return teacher, nil
}

func (s *BatchService) invalidate(ctx context.Context, batchID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateBatch(ctx, batchID); err != nil {
		s.logger.Sugar().Warnw("eligibility cache invalidation failed", "batch_id", batchID, "error", err)
	}
}

func normalizeLabels(raw []string) []string {
	result := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, label := range raw {
		trimmed := strings.TrimSpace(label)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		result = append(result, trimmed)
	}
	return result
}
