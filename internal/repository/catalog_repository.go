package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/classworks/edumarket-api/internal/models"
)

// CourseRepository reads course catalog entries the enrollment flow needs.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByID returns a course by its ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, title, type, price, currency, video_count, active FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// NotesRepository reads notes/materials catalog entries.
type NotesRepository struct {
	db *sqlx.DB
}

// NewNotesRepository constructs the repository.
func NewNotesRepository(db *sqlx.DB) *NotesRepository {
	return &NotesRepository{db: db}
}

// FindByID returns a notes item by its ID.
func (r *NotesRepository) FindByID(ctx context.Context, id string) (*models.Notes, error) {
	const query = `SELECT id, title, price, currency, active, validity_days FROM notes WHERE id = $1`
	var notes models.Notes
	if err := r.db.GetContext(ctx, &notes, query, id); err != nil {
		return nil, err
	}
	return &notes, nil
}
