package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/stagedimport/internal/db"
	"github.com/rpattn/stagedimport/internal/domain"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type studentRepository struct {
	db db.DBTX
}

// NewStudentRepository wires a student repository on top of a pgx executor.
func NewStudentRepository(exec db.DBTX) StudentRepository {
	return &studentRepository{db: exec}
}

func (r *studentRepository) FindByDocument(ctx context.Context, document string) (domain.Student, bool, error) {
	var (
		student       domain.Student
		provisionedBy pgtype.UUID
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, document_number, first_name, last_name, email, provisioned_by, created_at
		 FROM students
		 WHERE document_number = $1`,
		document,
	).Scan(
		&student.ID,
		&student.DocumentNumber,
		&student.FirstName,
		&student.LastName,
		&student.Email,
		&provisionedBy,
		&student.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Student{}, false, nil
	}
	if err != nil {
		return domain.Student{}, false, fmt.Errorf("failed to find student: %w", err)
	}
	student.ProvisionedBy = fromPgUUID(provisionedBy)
	return student, true, nil
}

func (r *studentRepository) Create(ctx context.Context, student domain.Student) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO students (id, document_number, first_name, last_name, email, provisioned_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		student.ID,
		student.DocumentNumber,
		student.FirstName,
		student.LastName,
		student.Email,
		toPgUUID(student.ProvisionedBy),
		student.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create student %s: %w", student.DocumentNumber, err)
	}
	return nil
}

func (r *studentRepository) DeleteProvisionedOrphans(ctx context.Context, batchID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM students AS s
		 WHERE s.provisioned_by = $1
		   AND NOT EXISTS (SELECT 1 FROM academic_records AS r WHERE r.student_id = s.id)`,
		batchID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete provisioned students: %w", err)
	}
	return tag.RowsAffected(), nil
}
