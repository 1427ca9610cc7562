package service

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grader/internal/content"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/rubric"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

const notAvailable = "N/A"

// NameMismatch records a grade whose echoed criterion name differs from the rubric.
type NameMismatch struct {
	CriterionID int    `json:"criterion_id"`
	Expected    string `json:"expected"`
	Returned    string `json:"returned"`
}

// ConsistencyReport compares the submitted criteria with the grades that came back.
// Malformed holds reply positions of grade entries that could not be read; the
// criteria they were meant for show up in Missing.
type ConsistencyReport struct {
	Missing        []int          `json:"missing"`
	Malformed      []int          `json:"malformed"`
	Unexpected     []int          `json:"unexpected"`
	Duplicates     []int          `json:"duplicates"`
	NameMismatches []NameMismatch `json:"name_mismatches"`
}

// Clean reports whether every criterion received exactly one matching grade.
func (r ConsistencyReport) Clean() bool {
	return len(r.Missing) == 0 && len(r.Malformed) == 0 && len(r.Unexpected) == 0 && len(r.Duplicates) == 0 && len(r.NameMismatches) == 0
}

// GradingOutcome is the orchestrator result handed to report synthesis. Err is set when
// grading failed; the breakdown is then empty but the report is still produced.
type GradingOutcome struct {
	Err         string
	Skipped     bool
	Breakdown   []ai.CriterionGrade
	Overall     ai.OverallResult
	Consistency ConsistencyReport
}

// GradeByIndex indexes the breakdown by stable criterion index.
func (o GradingOutcome) GradeByIndex() map[int]ai.CriterionGrade {
	return lo.KeyBy(o.Breakdown, func(g ai.CriterionGrade) int { return g.CriterionID })
}

// GradingService grades a project against a rubric.
type GradingService interface {
	Grade(ctx context.Context, rb rubric.Rubric, requirements string, bundle content.Bundle) GradingOutcome
}

type gradingService struct {
	grader ai.Grader
	logger zerolog.Logger
	tracer trace.Tracer
}

// NewGradingService constructs the grading orchestrator. A nil grader makes every call
// return a skipped outcome.
func NewGradingService(grader ai.Grader, logger zerolog.Logger) GradingService {
	return &gradingService{
		grader: grader,
		logger: logger.With().Str("component", "grading_service").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/internal/service/grading"),
	}
}

func (s *gradingService) Grade(ctx context.Context, rb rubric.Rubric, requirements string, bundle content.Bundle) GradingOutcome {
	ctx, span := s.tracer.Start(ctx, "grading.grade")
	defer span.End()

	if s.grader == nil {
		span.SetAttributes(attribute.Bool("grading.skipped", true))
		s.logger.Warn().Msg("ai grader not configured, skipping grading")
		return GradingOutcome{
			Skipped: true,
			Overall: ai.OverallResult{TotalScore: notAvailable, Feedback: "AI grading skipped."},
		}
	}

	criteria := rb.Criteria()
	span.SetAttributes(attribute.Int("grading.criteria", len(criteria)))

	request := ai.GradingRequest{
		Criteria:       lo.Map(criteria, func(c rubric.Criterion, _ int) map[string]interface{} { return c.Record() }),
		RubricMarkdown: rb.Markdown(),
		Requirements:   requirements,
		Files: lo.Map(bundle.Texts, func(f content.TextFile, _ int) ai.ProjectFile {
			return ai.ProjectFile{Path: f.Path, Content: f.Content}
		}),
		Images: lo.Map(bundle.Images, func(img content.Image, _ int) ai.ImageInput {
			return ai.ImageInput{Path: img.Path, MIMEType: img.MIMEType, Base64: img.Base64}
		}),
		HasVideo: bundle.HasVideo(),
	}

	response, err := s.grader.Grade(ctx, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grading failed")
		s.logger.Error().Err(err).Msg("ai grading failed")
		return GradingOutcome{
			Err:     "AI grading error: " + err.Error(),
			Overall: ai.OverallResult{TotalScore: notAvailable, Feedback: "AI grading failed: " + err.Error()},
		}
	}

	breakdown, consistency := reconcile(criteria, response.Grades)
	consistency.Malformed = lo.Map(response.Malformed, func(m ai.MalformedGrade, _ int) int { return m.Position })
	if !consistency.Clean() {
		recordConsistency(consistency)
		s.logger.Warn().
			Ints("missing", consistency.Missing).
			Ints("malformed", consistency.Malformed).
			Ints("unexpected", consistency.Unexpected).
			Ints("duplicates", consistency.Duplicates).
			Int("name_mismatches", len(consistency.NameMismatches)).
			Msg("grader response does not match the submitted criteria")
	}
	span.SetAttributes(attribute.Int("grading.grades", len(breakdown)))

	return GradingOutcome{
		Breakdown:   breakdown,
		Overall:     overallResult(response),
		Consistency: consistency,
	}
}

// reconcile keeps the first grade for every submitted criterion, in submission order,
// and reports what did not line up.
func reconcile(criteria []rubric.Criterion, grades []ai.CriterionGrade) ([]ai.CriterionGrade, ConsistencyReport) {
	expected := lo.KeyBy(criteria, func(c rubric.Criterion) int { return c.Index })
	received := make(map[int]ai.CriterionGrade, len(grades))
	report := ConsistencyReport{}

	for _, grade := range grades {
		criterion, known := expected[grade.CriterionID]
		if !known {
			report.Unexpected = append(report.Unexpected, grade.CriterionID)
			continue
		}
		if _, seen := received[grade.CriterionID]; seen {
			report.Duplicates = append(report.Duplicates, grade.CriterionID)
			continue
		}
		received[grade.CriterionID] = grade
		if grade.CriterionName != "" && !strings.EqualFold(strings.TrimSpace(grade.CriterionName), criterion.Name) {
			report.NameMismatches = append(report.NameMismatches, NameMismatch{
				CriterionID: grade.CriterionID,
				Expected:    criterion.Name,
				Returned:    grade.CriterionName,
			})
		}
	}

	breakdown := make([]ai.CriterionGrade, 0, len(received))
	for _, criterion := range criteria {
		grade, ok := received[criterion.Index]
		if !ok {
			report.Missing = append(report.Missing, criterion.Index)
			continue
		}
		breakdown = append(breakdown, grade)
	}

	report.Unexpected = lo.Uniq(report.Unexpected)
	report.Duplicates = lo.Uniq(report.Duplicates)
	sort.Ints(report.Unexpected)
	sort.Ints(report.Duplicates)
	return breakdown, report
}

func overallResult(response ai.GradingResponse) ai.OverallResult {
	result := ai.OverallResult{
		TotalScore: strings.TrimSpace(response.OverallTotalScore.String()),
		Feedback:   strings.TrimSpace(response.OverallFeedback),
	}
	if result.TotalScore == "" {
		result.TotalScore = notAvailable
	}
	if result.Feedback == "" {
		result.Feedback = notAvailable
	}
	return result
}

func recordConsistency(report ConsistencyReport) {
	observability.ConsistencyIssues().WithLabelValues("missing").Add(float64(len(report.Missing)))
	observability.ConsistencyIssues().WithLabelValues("malformed").Add(float64(len(report.Malformed)))
	observability.ConsistencyIssues().WithLabelValues("unexpected").Add(float64(len(report.Unexpected)))
	observability.ConsistencyIssues().WithLabelValues("duplicate").Add(float64(len(report.Duplicates)))
	observability.ConsistencyIssues().WithLabelValues("name_mismatch").Add(float64(len(report.NameMismatches)))
}
