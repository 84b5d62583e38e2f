// Package memory is a process-local repository used by tests and single-binary
// development runs. It implements the same guards as the postgres store.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

var timeNow = func() time.Time { return time.Now().UTC() }

type Store struct {
	mu       sync.RWMutex
	projects map[string]domain.Project
	files    map[string]domain.File
	insights map[string]domain.Insight
}

func NewStore() *Store {
	return &Store{
		projects: make(map[string]domain.Project),
		files:    make(map[string]domain.File),
		insights: make(map[string]domain.Insight),
	}
}

func (s *Store) CreateProject(_ context.Context, project *domain.Project) error {
	if project == nil {
		return domain.WrapError(domain.ErrInvalidInput, "create project", errors.New("project is nil"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project.ID]; ok {
		return domain.WrapError(domain.ErrInvalidInput, "create project", fmt.Errorf("duplicate id %s", project.ID))
	}
	s.projects[project.ID] = *project
	return nil
}

func (s *Store) GetProject(_ context.Context, id string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	project, ok := s.projects[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrProjectNotFound, "get project", fmt.Errorf("id=%s", id))
	}
	return &project, nil
}

func (s *Store) ListProjectsByOwner(_ context.Context, ownerID string) ([]domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Project, 0)
	for _, project := range s.projects {
		if project.OwnerID == ownerID {
			out = append(out, project)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateFile(_ context.Context, file *domain.File) error {
	if file == nil {
		return domain.WrapError(domain.ErrInvalidInput, "create file", errors.New("file is nil"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[file.ProjectID]; !ok {
		return domain.WrapError(domain.ErrProjectNotFound, "create file", fmt.Errorf("project_id=%s", file.ProjectID))
	}
	if _, ok := s.files[file.ID]; ok {
		return domain.WrapError(domain.ErrInvalidInput, "create file", fmt.Errorf("duplicate id %s", file.ID))
	}
	s.files[file.ID] = *file
	return nil
}

func (s *Store) GetFile(_ context.Context, id string) (*domain.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	file, ok := s.files[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrFileNotFound, "get file", fmt.Errorf("id=%s", id))
	}
	return &file, nil
}

func (s *Store) ListFiles(_ context.Context, projectID string, filter domain.FileFilter) ([]domain.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.File, 0)
	for _, file := range s.files {
		if file.ProjectID != projectID {
			continue
		}
		if filter.Kind != "" && file.Kind != filter.Kind {
			continue
		}
		out = append(out, file)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) TransitionStatus(_ context.Context, id string, from, to domain.FileStatus, errMessage string) (bool, error) {
	if err := domain.CheckTransition(from, to); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[id]
	if !ok {
		return false, domain.WrapError(domain.ErrFileNotFound, "transition file status", fmt.Errorf("id=%s", id))
	}
	if file.Status != from {
		return false, nil
	}
	file.Status = to
	file.Error = errMessage
	file.UpdatedAt = timeNow()
	s.files[id] = file
	return true, nil
}

func (s *Store) CommitFanout(_ context.Context, fileID string, insights []domain.Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[fileID]
	if !ok {
		return domain.WrapError(domain.ErrFileNotFound, "commit insight fan-out", fmt.Errorf("id=%s", fileID))
	}
	if file.Status != domain.FileStatusProcessing {
		return domain.WrapError(
			domain.ErrInvalidTransition,
			"commit insight fan-out",
			fmt.Errorf("file %s is %s", fileID, file.Status),
		)
	}
	for _, insight := range insights {
		if insight.FileID != fileID {
			return domain.WrapError(
				domain.ErrPersistenceFailed,
				"commit insight fan-out",
				fmt.Errorf("insight %s belongs to file %s", insight.ID, insight.FileID),
			)
		}
		if _, dup := s.insights[insight.ID]; dup {
			return domain.WrapError(
				domain.ErrPersistenceFailed,
				"commit insight fan-out",
				fmt.Errorf("duplicate insight id %s", insight.ID),
			)
		}
	}

	for _, insight := range insights {
		s.insights[insight.ID] = insight
	}
	file.Status = domain.FileStatusCompleted
	file.Error = ""
	file.UpdatedAt = timeNow()
	s.files[fileID] = file
	return nil
}

func (s *Store) GetInsight(_ context.Context, id string) (*domain.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	insight, ok := s.insights[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrInsightNotFound, "get insight", fmt.Errorf("id=%s", id))
	}
	return &insight, nil
}

func (s *Store) ListInsights(_ context.Context, projectID string, filter domain.InsightFilter) ([]domain.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Insight, 0)
	for _, insight := range s.insights {
		if insight.ProjectID != projectID {
			continue
		}
		if filter.Status != "" && insight.Status != filter.Status {
			continue
		}
		if filter.FileID != "" && insight.FileID != filter.FileID {
			continue
		}
		out = append(out, insight)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.FileID != b.FileID {
			return a.FileID < b.FileID
		}
		if a.Ordinal != b.Ordinal {
			return a.Ordinal < b.Ordinal
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *Store) UpdateReview(_ context.Context, update domain.ReviewUpdate) (*domain.Insight, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	insight, ok := s.insights[update.InsightID]
	if !ok {
		return nil, false, domain.WrapError(domain.ErrInsightNotFound, "update review", fmt.Errorf("id=%s", update.InsightID))
	}
	if insight.ProjectID != update.ProjectID || !slices.Contains(update.From, insight.Status) {
		return nil, false, nil
	}
	reviewedAt := update.ReviewedAt
	insight.Status = update.To
	insight.ReviewedBy = update.ReviewerID
	insight.ReviewedAt = &reviewedAt
	s.insights[insight.ID] = insight
	return &insight, true, nil
}
