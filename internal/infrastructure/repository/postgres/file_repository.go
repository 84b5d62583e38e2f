package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

var timeNow = func() time.Time { return time.Now().UTC() }

type FileRepository struct {
	db *sql.DB
}

func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

const fileColumns = `id, project_id, owner_id, name, mime_type, storage_key, kind, status, error_message, created_at, updated_at`

func (r *FileRepository) CreateFile(ctx context.Context, file *domain.File) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO files (`+fileColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
		file.ID,
		file.ProjectID,
		file.OwnerID,
		file.Name,
		file.MimeType,
		file.StorageKey,
		string(file.Kind),
		string(file.Status),
		file.Error,
		file.CreatedAt,
		file.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (r *FileRepository) GetFile(ctx context.Context, id string) (*domain.File, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+fileColumns+`
FROM files
WHERE id = $1
`, id)

	file, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrFileNotFound, "get file", fmt.Errorf("id=%s", id))
		}
		return nil, err
	}
	return file, nil
}

func (r *FileRepository) ListFiles(ctx context.Context, projectID string, filter domain.FileFilter) ([]domain.File, error) {
	query := `
SELECT ` + fileColumns + `
FROM files
WHERE project_id = $1`
	args := []any{projectID}
	if filter.Kind != "" {
		query += ` AND kind = $2`
		args = append(args, string(filter.Kind))
	}
	query += `
ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	out := make([]domain.File, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return out, nil
}

func (r *FileRepository) TransitionStatus(ctx context.Context, id string, from, to domain.FileStatus, errMessage string) (bool, error) {
	if err := domain.CheckTransition(from, to); err != nil {
		return false, err
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE files
SET status = $3, error_message = $4, updated_at = $5
WHERE id = $1 AND status = $2
`, id, string(from), string(to), errMessage, timeNow())
	if err != nil {
		return false, fmt.Errorf("transition file status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition file status rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	exists, err := rowExists(ctx, r.db, `SELECT EXISTS (SELECT 1 FROM files WHERE id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("transition file status: %w", err)
	}
	if !exists {
		return false, domain.WrapError(domain.ErrFileNotFound, "transition file status", fmt.Errorf("id=%s", id))
	}
	return false, nil
}

func scanFile(row rowScanner) (*domain.File, error) {
	var (
		file   domain.File
		kind   string
		status string
	)
	if err := row.Scan(
		&file.ID,
		&file.ProjectID,
		&file.OwnerID,
		&file.Name,
		&file.MimeType,
		&file.StorageKey,
		&kind,
		&status,
		&file.Error,
		&file.CreatedAt,
		&file.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan file: %w", err)
	}
	file.Kind = domain.FileKind(kind)
	file.Status = domain.FileStatus(status)
	return &file, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func rowExists(ctx context.Context, db queryRower, query string, args ...any) (bool, error) {
	var exists bool
	if err := db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check existence: %w", err)
	}
	return exists, nil
}
