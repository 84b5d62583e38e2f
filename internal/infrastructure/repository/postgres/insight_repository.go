package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

type InsightRepository struct {
	db *sql.DB
}

func NewInsightRepository(db *sql.DB) *InsightRepository {
	return &InsightRepository{db: db}
}

const insightColumns = `id, project_id, file_id, owner_id, excerpt, insight, category, status, ordinal, created_at, reviewed_by, reviewed_at`

// CommitFanout flips the file to completed and inserts the batch in one
// transaction. A file that is no longer processing aborts the commit.
func (r *InsightRepository) CommitFanout(ctx context.Context, fileID string, insights []domain.Insight) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapError(domain.ErrPersistenceFailed, "commit insight fan-out", fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
UPDATE files
SET status = $2, error_message = '', updated_at = $4
WHERE id = $1 AND status = $3
`, fileID, string(domain.FileStatusCompleted), string(domain.FileStatusProcessing), timeNow())
	if err != nil {
		return domain.WrapError(domain.ErrPersistenceFailed, "commit insight fan-out", fmt.Errorf("complete file: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.WrapError(domain.ErrPersistenceFailed, "commit insight fan-out", fmt.Errorf("rows affected: %w", err))
	}
	if affected == 0 {
		return domain.WrapError(
			domain.ErrInvalidTransition,
			"commit insight fan-out",
			fmt.Errorf("file %s is not processing", fileID),
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
		if _, err := tx.ExecContext(ctx, `
INSERT INTO insights (id, project_id, file_id, owner_id, excerpt, insight, category, status, ordinal, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
			insight.ID,
			insight.ProjectID,
			insight.FileID,
			insight.OwnerID,
			insight.Excerpt,
			insight.Insight,
			string(insight.Category),
			string(insight.Status),
			insight.Ordinal,
			insight.CreatedAt,
		); err != nil {
			return domain.WrapError(domain.ErrPersistenceFailed, "commit insight fan-out", fmt.Errorf("insert insight %s: %w", insight.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.WrapError(domain.ErrPersistenceFailed, "commit insight fan-out", fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (r *InsightRepository) GetInsight(ctx context.Context, id string) (*domain.Insight, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+insightColumns+`
FROM insights
WHERE id = $1
`, id)

	insight, err := scanInsight(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrInsightNotFound, "get insight", fmt.Errorf("id=%s", id))
		}
		return nil, err
	}
	return insight, nil
}

func (r *InsightRepository) ListInsights(ctx context.Context, projectID string, filter domain.InsightFilter) ([]domain.Insight, error) {
	query := `
SELECT ` + insightColumns + `
FROM insights
WHERE project_id = $1`
	args := []any{projectID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.FileID != "" {
		args = append(args, filter.FileID)
		query += ` AND file_id = $` + strconv.Itoa(len(args))
	}
	query += `
ORDER BY created_at ASC, file_id ASC, ordinal ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Insight, 0)
	for rows.Next() {
		insight, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *insight)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate insights: %w", err)
	}
	return out, nil
}

func (r *InsightRepository) UpdateReview(ctx context.Context, update domain.ReviewUpdate) (*domain.Insight, bool, error) {
	if len(update.From) == 0 {
		return nil, false, domain.WrapError(domain.ErrInvalidInput, "update review", errors.New("empty from statuses"))
	}

	args := []any{update.InsightID, update.ProjectID, string(update.To), update.ReviewerID, update.ReviewedAt}
	placeholders := make([]string, 0, len(update.From))
	for _, status := range update.From {
		args = append(args, string(status))
		placeholders = append(placeholders, "$"+strconv.Itoa(len(args)))
	}

	row := r.db.QueryRowContext(ctx, `
UPDATE insights
SET status = $3, reviewed_by = $4, reviewed_at = $5
WHERE id = $1 AND project_id = $2 AND status IN (`+strings.Join(placeholders, ", ")+`)
RETURNING `+insightColumns, args...)

	insight, err := scanInsight(row)
	if err == nil {
		return insight, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("update review: %w", err)
	}

	exists, err := rowExists(ctx, r.db, `SELECT EXISTS (SELECT 1 FROM insights WHERE id = $1)`, update.InsightID)
	if err != nil {
		return nil, false, fmt.Errorf("update review: %w", err)
	}
	if !exists {
		return nil, false, domain.WrapError(domain.ErrInsightNotFound, "update review", fmt.Errorf("id=%s", update.InsightID))
	}
	return nil, false, nil
}

func scanInsight(row rowScanner) (*domain.Insight, error) {
	var (
		insight    domain.Insight
		category   string
		status     string
		reviewedAt sql.NullTime
	)
	if err := row.Scan(
		&insight.ID,
		&insight.ProjectID,
		&insight.FileID,
		&insight.OwnerID,
		&insight.Excerpt,
		&insight.Insight,
		&category,
		&status,
		&insight.Ordinal,
		&insight.CreatedAt,
		&insight.ReviewedBy,
		&reviewedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan insight: %w", err)
	}
	insight.Category = domain.Category(category)
	insight.Status = domain.ReviewStatus(status)
	if reviewedAt.Valid {
		t := reviewedAt.Time.UTC()
		insight.ReviewedAt = &t
	}
	return &insight, nil
}
