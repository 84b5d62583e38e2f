package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

type ProjectRepository struct {
	db *sql.DB
}

func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) CreateProject(ctx context.Context, project *domain.Project) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO projects (id, name, owner_id, created_at)
VALUES ($1,$2,$3,$4)
`, project.ID, project.Name, project.OwnerID, project.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (r *ProjectRepository) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, owner_id, created_at
FROM projects
WHERE id = $1
`, id)

	var project domain.Project
	if err := row.Scan(&project.ID, &project.Name, &project.OwnerID, &project.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrProjectNotFound, "get project", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	return &project, nil
}

func (r *ProjectRepository) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, owner_id, created_at
FROM projects
WHERE owner_id = $1
ORDER BY created_at ASC, id ASC
`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Project, 0)
	for rows.Next() {
		var project domain.Project
		if err := rows.Scan(&project.ID, &project.Name, &project.OwnerID, &project.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return out, nil
}
