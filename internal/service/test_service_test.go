package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classworks/edumarket-api/internal/models"
	appErrors "github.com/classworks/edumarket-api/pkg/errors"
)

type mockTestRepo struct {
	tests   map[string]*models.Test
	rosters map[string][]models.TestAssignment
}

func (m *mockTestRepo) FindByID(ctx context.Context, id string) (*models.Test, error) {
	if t, ok := m.tests[id]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTestRepo) Create(ctx context.Context, test *models.Test) error {
	if m.tests == nil {
		m.tests = make(map[string]*models.Test)
	}
	test.ID = "test-new"
	m.tests[test.ID] = test
	return nil
}

func (m *mockTestRepo) ListAssignments(ctx context.Context, testID string) ([]models.TestAssignment, error) {
	return m.rosters[testID], nil
}

func (m *mockTestRepo) AssignedStudentIDs(ctx context.Context, testID string, studentIDs []string) (map[string]bool, error) {
	result := make(map[string]bool)
	for _, a := range m.rosters[testID] {
		for _, id := range studentIDs {
			if a.StudentID == id {
				result[id] = true
			}
		}
	}
	return result, nil
}

func (m *mockTestRepo) InsertAssignments(ctx context.Context, testID string, studentIDs []string) error {
	if m.rosters == nil {
		m.rosters = make(map[string][]models.TestAssignment)
	}
	for _, id := range studentIDs {
		m.rosters[testID] = append(m.rosters[testID], models.TestAssignment{TestID: testID, StudentID: id})
	}
	return nil
}

func (m *mockTestRepo) RecordMarks(ctx context.Context, testID, studentID string, marks float64, evaluatedAt time.Time) (int64, error) {
	for i, a := range m.rosters[testID] {
		if a.StudentID == studentID {
			m.rosters[testID][i].MarksScored = &marks
			m.rosters[testID][i].EvaluatedAt = &evaluatedAt
			return 1, nil
		}
	}
	return 0, nil
}

func (m *mockTestRepo) RecordSubmission(ctx context.Context, testID, studentID string, submittedAt time.Time) (int64, error) {
	for i, a := range m.rosters[testID] {
		if a.StudentID == studentID {
			m.rosters[testID][i].SubmittedAt = &submittedAt
			return 1, nil
		}
	}
	return 0, nil
}

func seedTestRepo() *mockTestRepo {
	return &mockTestRepo{
		tests: map[string]*models.Test{
			"test1": {ID: "test1", BatchID: "batch1", ClassName: "11", SubjectName: "Physics", Title: "Unit Test 1", FullMarks: 100},
		},
		rosters: map[string][]models.TestAssignment{},
	}
}

func newTestService(repo *mockTestRepo, eligible []string) *TestService {
	return NewTestService(repo, seedBatchRepo(), &staticEligibility{students: eligible}, validator.New(), zap.NewNop())
}

func TestTestServiceCreateValidatesScope(t *testing.T) {
	repo := seedTestRepo()
	svc := newTestService(repo, nil)

	created, err := svc.Create(context.Background(), "t1", CreateTestRequest{
		BatchID: "batch1", ClassName: "11", SubjectName: "Physics",
		Title: "Mock Exam", FullMarks: 80, ScheduledAt: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", created.CreatedBy)

	_, err = svc.Create(context.Background(), "t1", CreateTestRequest{
		BatchID: "batch1", ClassName: "9", SubjectName: "Physics",
		Title: "Mock Exam", FullMarks: 80, ScheduledAt: time.Now(),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Create(context.Background(), "t1", CreateTestRequest{
		BatchID: "batch1", ClassName: "11", SubjectName: "Sanskrit",
		Title: "Mock Exam", FullMarks: 80, ScheduledAt: time.Now(),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTestServiceAssignStudentsAllOrNothing(t *testing.T) {
	repo := seedTestRepo()
	svc := newTestService(repo, []string{"stu1", "stu2"})

	_, err := svc.AssignStudents(context.Background(), "test1", AssignTestStudentsRequest{StudentIDs: []string{"stu1", "outsider"}})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.rosters["test1"])

	result, err := svc.AssignStudents(context.Background(), "test1", AssignTestStudentsRequest{StudentIDs: []string{"stu1", "stu2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"stu1", "stu2"}, result.Assigned)
	assert.Len(t, repo.rosters["test1"], 2)
}

func TestTestServiceAssignStudentsSkipsExisting(t *testing.T) {
	repo := seedTestRepo()
	svc := newTestService(repo, []string{"stu1", "stu2"})

	_, err := svc.AssignStudents(context.Background(), "test1", AssignTestStudentsRequest{StudentIDs: []string{"stu1"}})
	require.NoError(t, err)

	result, err := svc.AssignStudents(context.Background(), "test1", AssignTestStudentsRequest{StudentIDs: []string{"stu1", "stu2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"stu1"}, result.Skipped)
	assert.Equal(t, []string{"stu2"}, result.Assigned)
	assert.Len(t, repo.rosters["test1"], 2)
}

func TestTestServiceRecordMarksBounded(t *testing.T) {
	repo := seedTestRepo()
	svc := newTestService(repo, []string{"stu1"})

	_, err := svc.AssignStudents(context.Background(), "test1", AssignTestStudentsRequest{StudentIDs: []string{"stu1"}})
	require.NoError(t, err)

	err = svc.RecordMarks(context.Background(), "test1", RecordMarksRequest{StudentID: "stu1", Marks: 120})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	err = svc.RecordMarks(context.Background(), "test1", RecordMarksRequest{StudentID: "stu1", Marks: 88})
	require.NoError(t, err)
	require.NotNil(t, repo.rosters["test1"][0].MarksScored)
	assert.Equal(t, 88.0, *repo.rosters["test1"][0].MarksScored)
	assert.NotNil(t, repo.rosters["test1"][0].EvaluatedAt)

	err = svc.RecordMarks(context.Background(), "test1", RecordMarksRequest{StudentID: "ghost", Marks: 10})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestTestServiceStatisticsRecomputed(t *testing.T) {
	repo := seedTestRepo()
	svc := newTestService(repo, []string{"stu1", "stu2", "stu3"})

	_, err := svc.AssignStudents(context.Background(), "test1", AssignTestStudentsRequest{StudentIDs: []string{"stu1", "stu2", "stu3"}})
	require.NoError(t, err)

	require.NoError(t, svc.RecordSubmission(context.Background(), "test1", "stu1"))
	require.NoError(t, svc.RecordSubmission(context.Background(), "test1", "stu2"))
	require.NoError(t, svc.RecordMarks(context.Background(), "test1", RecordMarksRequest{StudentID: "stu1", Marks: 90}))
	require.NoError(t, svc.RecordMarks(context.Background(), "test1", RecordMarksRequest{StudentID: "stu2", Marks: 30}))

	stats, err := svc.Statistics(context.Background(), "test1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.AssignedCount)
	assert.Equal(t, 2, stats.SubmittedCount)
	assert.Equal(t, 2, stats.EvaluatedCount)
	assert.Equal(t, 60.0, stats.AverageMarks)
	assert.Equal(t, 90.0, stats.HighestMarks)
	assert.Equal(t, 30.0, stats.LowestMarks)
	assert.Equal(t, 60.0, stats.AveragePercent)
	assert.Equal(t, 1, stats.PassCount)

	// later evaluation shifts the derived numbers
	require.NoError(t, svc.RecordMarks(context.Background(), "test1", RecordMarksRequest{StudentID: "stu3", Marks: 60}))
	stats, err = svc.Statistics(context.Background(), "test1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.EvaluatedCount)
	assert.Equal(t, 60.0, stats.AverageMarks)
	assert.Equal(t, 2, stats.PassCount)
}
