package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/core/ports"
)

const maxProjectNameLength = 200

type ProjectUseCase struct {
	projects ports.ProjectRepository
	files    ports.FileRepository
	now      func() time.Time
}

func NewProjectUseCase(projects ports.ProjectRepository, files ports.FileRepository) *ProjectUseCase {
	return &ProjectUseCase{projects: projects, files: files, now: utcNow}
}

func (uc *ProjectUseCase) CreateProject(ctx context.Context, ownerID, name string) (*domain.Project, error) {
	ownerID = strings.TrimSpace(ownerID)
	name = strings.TrimSpace(name)
	if ownerID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create project", errors.New("owner id is required"))
	}
	if name == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create project", errors.New("name is required"))
	}
	if utf8.RuneCountInString(name) > maxProjectNameLength {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"create project",
			fmt.Errorf("name exceeds %d characters", maxProjectNameLength),
		)
	}

	project := &domain.Project{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: uc.now(),
	}
	if err := uc.projects.CreateProject(ctx, project); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return project, nil
}

func (uc *ProjectUseCase) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	return uc.projects.GetProject(ctx, id)
}

func (uc *ProjectUseCase) ListProjects(ctx context.Context, ownerID string) ([]domain.Project, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list projects", errors.New("owner id is required"))
	}
	return uc.projects.ListProjectsByOwner(ctx, ownerID)
}

func (uc *ProjectUseCase) GetFile(ctx context.Context, projectID, fileID string) (*domain.File, error) {
	file, err := uc.files.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.ProjectID != projectID {
		return nil, domain.WrapError(
			domain.ErrFileNotFound,
			"get file",
			fmt.Errorf("file %s is not in project %s", fileID, projectID),
		)
	}
	return file, nil
}

func (uc *ProjectUseCase) ListFiles(ctx context.Context, projectID string, filter domain.FileFilter) ([]domain.File, error) {
	if _, err := uc.projects.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	return uc.files.ListFiles(ctx, projectID, filter)
}
