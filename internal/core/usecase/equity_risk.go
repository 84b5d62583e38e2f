package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/core/ports"
)

// ContextLimits caps the size of each rendered context block in bytes. Zero
// disables the cap.
type ContextLimits struct {
	MaxQualitativeBytes int
	MaxGeospatialBytes  int
}

type EquityRiskUseCase struct {
	projects ports.ProjectRepository
	files    ports.FileRepository
	insights ports.InsightRepository
	model    ports.RiskModel
	limits   ContextLimits
	timeout  time.Duration
}

func NewEquityRiskUseCase(
	projects ports.ProjectRepository,
	files ports.FileRepository,
	insights ports.InsightRepository,
	model ports.RiskModel,
	limits ContextLimits,
	timeout time.Duration,
) *EquityRiskUseCase {
	return &EquityRiskUseCase{
		projects: projects,
		files:    files,
		insights: insights,
		model:    model,
		limits:   limits,
		timeout:  timeout,
	}
}

// AssembleContext reads the project's accepted insights and geospatial layers
// and renders both prompt blocks. It has no side effects.
func (uc *EquityRiskUseCase) AssembleContext(ctx context.Context, projectID string) (*domain.EquityRiskContext, error) {
	if _, err := uc.projects.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}

	accepted, err := uc.insights.ListInsights(ctx, projectID, domain.InsightFilter{Status: domain.ReviewAccepted})
	if err != nil {
		return nil, fmt.Errorf("list accepted insights: %w", err)
	}
	layers, err := uc.files.ListFiles(ctx, projectID, domain.FileFilter{Kind: domain.FileKindGeospatial})
	if err != nil {
		return nil, fmt.Errorf("list geospatial files: %w", err)
	}

	sort.SliceStable(accepted, func(i, j int) bool { return insightLess(accepted[i], accepted[j]) })
	sort.SliceStable(layers, func(i, j int) bool {
		if !layers[i].CreatedAt.Equal(layers[j].CreatedAt) {
			return layers[i].CreatedAt.Before(layers[j].CreatedAt)
		}
		return layers[i].ID < layers[j].ID
	})

	out := &domain.EquityRiskContext{
		ProjectID:        projectID,
		Insights:         make([]domain.AcceptedInsight, 0, len(accepted)),
		GeospatialLayers: make([]string, 0, len(layers)),
	}
	qualitativeLines := make([]string, 0, len(accepted))
	for _, item := range accepted {
		if item.Status != domain.ReviewAccepted {
			continue
		}
		out.Insights = append(out.Insights, domain.AcceptedInsight{
			InsightID: item.ID,
			FileID:    item.FileID,
			Insight:   item.Insight,
			Excerpt:   item.Excerpt,
			Category:  item.Category,
			CreatedAt: item.CreatedAt,
		})
		qualitativeLines = append(qualitativeLines, fmt.Sprintf("- %s (Source: \"%s\")",
			normalizeWhitespace(item.Insight), normalizeWhitespace(item.Excerpt)))
	}
	geospatialLines := make([]string, 0, len(layers))
	for _, layer := range layers {
		if layer.Kind != domain.FileKindGeospatial {
			continue
		}
		out.GeospatialLayers = append(out.GeospatialLayers, layer.Name)
		geospatialLines = append(geospatialLines, "- "+layer.Name)
	}

	out.QualitativeBlock = renderContextBlock(qualitativeLines, uc.limits.MaxQualitativeBytes, domain.NoQualitativeContext)
	out.GeospatialBlock = renderContextBlock(geospatialLines, uc.limits.MaxGeospatialBytes, domain.NoGeospatialContext)
	return out, nil
}

// Analyze assembles the context and asks the risk model for a report.
func (uc *EquityRiskUseCase) Analyze(ctx context.Context, projectID, policyText string) (*domain.EquityRiskReport, error) {
	policyText = strings.TrimSpace(policyText)
	if policyText == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "analyze equity risk", errors.New("policy text is required"))
	}

	riskContext, err := uc.AssembleContext(ctx, projectID)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if uc.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, uc.timeout)
		defer cancel()
	}
	report, err := uc.model.AnalyzeEquityRisk(callCtx, policyText, riskContext.QualitativeBlock, riskContext.GeospatialBlock)
	if err != nil {
		if domain.IsKind(err, domain.ErrAnalysisUnavailable) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrAnalysisUnavailable, "invoke risk model", err)
	}

	report = normalizeReport(report)
	if report.IsEmpty() {
		return nil, domain.WrapError(domain.ErrAnalysisUnavailable, "invoke risk model", errors.New("model returned no usable output"))
	}
	report.ProjectID = projectID
	report.InsightsUsed = len(riskContext.Insights)
	report.LayersUsed = len(riskContext.GeospatialLayers)
	return report, nil
}

func insightLess(a, b domain.Insight) bool {
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
}

// renderContextBlock joins lines with newlines. When the block would exceed
// maxBytes the remaining lines are replaced by a single omission note.
func renderContextBlock(lines []string, maxBytes int, emptySentinel string) string {
	if len(lines) == 0 {
		return emptySentinel
	}

	var b strings.Builder
	kept := 0
	for _, line := range lines {
		need := len(line)
		if kept > 0 {
			need++
		}
		if maxBytes > 0 && b.Len()+need > maxBytes {
			if kept == 0 {
				b.WriteString(truncateUTF8(line, maxBytes))
				kept = 1
			}
			break
		}
		if kept > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		kept++
	}
	if omitted := len(lines) - kept; omitted > 0 {
		fmt.Fprintf(&b, "\n- (%d more omitted)", omitted)
	}
	return b.String()
}

func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func normalizeReport(report *domain.EquityRiskReport) *domain.EquityRiskReport {
	if report == nil {
		return &domain.EquityRiskReport{}
	}
	return &domain.EquityRiskReport{
		Summary:         strings.TrimSpace(report.Summary),
		KeyRisks:        compactStrings(report.KeyRisks),
		Recommendations: compactStrings(report.Recommendations),
	}
}

func compactStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
