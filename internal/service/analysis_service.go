package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grader/internal/content"
	"github.com/noah-isme/gema-grader/internal/docreader"
	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/report"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/rubric"
)

var (
	// ErrInvalidUpload indicates a missing upload or an unsupported file type.
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrUploadTooLarge indicates an upload exceeded its size limit.
	ErrUploadTooLarge = errors.New("file exceeds maximum allowed size")
	// ErrArchiveUnreadable indicates the project archive could not be extracted.
	ErrArchiveUnreadable = errors.New("failed to unzip project archive")
	// ErrRequirementsUnreadable indicates no text could be read from the requirements document.
	ErrRequirementsUnreadable = errors.New("failed to read requirements file")
)

const reportSuffix = "_Grading_Report.xlsx"

var (
	projectExtensions      = []string{".zip"}
	requirementsExtensions = append([]string{".txt", ".md"}, docreader.DocumentExtensions...)
)

// AnalysisConfig configures the analysis pipeline.
type AnalysisConfig struct {
	WorkspaceRoot        string
	MaxRubricBytes       int64
	MaxProjectBytes      int64
	MaxRequirementsBytes int64
	Limits               content.Limits
	Synthesis            report.Options
	// DownloadPath is a format string receiving the report id.
	DownloadPath string
	ReportTTL    time.Duration
}

// AnalysisService runs the grading pipeline and hands out finished reports.
type AnalysisService interface {
	Analyze(ctx context.Context, req dto.AnalysisRequest) (dto.AnalysisResponse, error)
	Download(ctx context.Context, id string) (repository.StoredReport, error)
}

type analysisService struct {
	grading    GradingService
	reports    repository.ReportRepository
	events     ReportEvents
	inferrer   *rubric.Inferrer
	aggregator *content.Aggregator
	validator  *validator.Validate
	logger     zerolog.Logger
	tracer     trace.Tracer
	config     AnalysisConfig
}

// NewAnalysisService constructs the analysis pipeline. events may be nil.
func NewAnalysisService(
	grading GradingService,
	reports repository.ReportRepository,
	events ReportEvents,
	validate *validator.Validate,
	logger zerolog.Logger,
	cfg AnalysisConfig,
) AnalysisService {
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}
	if cfg.MaxRubricBytes <= 0 {
		cfg.MaxRubricBytes = 25 * 1024 * 1024
	}
	if cfg.MaxRequirementsBytes <= 0 {
		cfg.MaxRequirementsBytes = 25 * 1024 * 1024
	}
	if cfg.MaxProjectBytes <= 0 {
		cfg.MaxProjectBytes = 1000 * 1024 * 1024
	}
	if cfg.DownloadPath == "" {
		cfg.DownloadPath = "/api/v1/reports/%s/download"
	}
	if cfg.ReportTTL <= 0 {
		cfg.ReportTTL = 15 * time.Minute
	}
	if validate == nil {
		validate = validator.New()
	}

	return &analysisService{
		grading:    grading,
		reports:    reports,
		events:     events,
		inferrer:   rubric.NewInferrer(logger),
		aggregator: content.NewAggregator(cfg.Limits, logger),
		validator:  validate,
		logger:     logger.With().Str("component", "analysis_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/gema-grader/internal/service/analysis"),
		config:     cfg,
	}
}

func (s *analysisService) Analyze(ctx context.Context, req dto.AnalysisRequest) (resp dto.AnalysisResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "analysis.run")
	defer span.End()

	defer func() {
		outcome := "success"
		switch {
		case err != nil:
			outcome = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case resp.GradingSkipped:
			outcome = "grading_skipped"
		case resp.GradingError != "":
			outcome = "grading_failed"
		}
		observability.Analyses().WithLabelValues(outcome).Inc()
	}()

	if err := s.validateRequest(req); err != nil {
		return dto.AnalysisResponse{}, err
	}
	span.SetAttributes(
		attribute.String("analysis.rubric", req.Rubric.Filename),
		attribute.String("analysis.project", req.Project.Filename),
		attribute.Int64("analysis.project_bytes", req.Project.Size),
	)

	workspace, err := os.MkdirTemp(s.config.WorkspaceRoot, "analysis-*")
	if err != nil {
		return dto.AnalysisResponse{}, fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if removeErr := os.RemoveAll(workspace); removeErr != nil {
			s.logger.Warn().Err(removeErr).Str("workspace", workspace).Msg("failed to remove analysis workspace")
		}
	}()

	uploadsDir := filepath.Join(workspace, "uploads")
	projectDir := filepath.Join(workspace, "project")
	for _, dir := range []string{uploadsDir, projectDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return dto.AnalysisResponse{}, fmt.Errorf("create workspace: %w", err)
		}
	}

	rubricPath, err := saveUpload(req.Rubric, uploadsDir, s.config.MaxRubricBytes)
	if err != nil {
		return dto.AnalysisResponse{}, err
	}
	projectPath, err := saveUpload(req.Project, uploadsDir, s.config.MaxProjectBytes)
	if err != nil {
		return dto.AnalysisResponse{}, err
	}
	requirementsPath, err := saveUpload(req.Requirements, uploadsDir, s.config.MaxRequirementsBytes)
	if err != nil {
		return dto.AnalysisResponse{}, err
	}

	stage := stageTimer()
	rb, err := s.loadRubric(rubricPath)
	if err != nil {
		return dto.AnalysisResponse{}, err
	}
	stage("rubric")

	if err := content.ExtractZip(projectPath, projectDir, s.aggregator.Limits().MaxExtractBytes); err != nil {
		if errors.Is(err, content.ErrArchiveTooLarge) {
			observability.UploadRejected().WithLabelValues("archive_size").Inc()
			return dto.AnalysisResponse{}, fmt.Errorf("%w: %v", ErrUploadTooLarge, err)
		}
		return dto.AnalysisResponse{}, fmt.Errorf("%w: %v", ErrArchiveUnreadable, err)
	}
	stage("extract")

	bundle, err := s.aggregator.Collect(ctx, projectDir)
	if err != nil {
		return dto.AnalysisResponse{}, err
	}
	for _, skipped := range bundle.Skipped {
		observability.ContentSkipped().WithLabelValues(skipped.Reason).Inc()
	}
	stage("content")

	requirements, err := docreader.Read(requirementsPath)
	if err != nil {
		return dto.AnalysisResponse{}, fmt.Errorf("%w: %v", ErrRequirementsUnreadable, err)
	}
	stage("requirements")

	outcome := s.grading.Grade(ctx, rb, requirements, bundle)
	stage("grading")

	rep, err := report.Synthesize(rb, report.Grading{Grades: outcome.GradeByIndex(), Overall: outcome.Overall}, s.config.Synthesis)
	if err != nil {
		return dto.AnalysisResponse{}, err
	}
	stage("report")

	reportID := uuid.NewString()
	fileName := projectName(req.Project.Filename) + reportSuffix
	stored := repository.StoredReport{FileName: fileName, Workbook: rep.Workbook, CreatedAt: time.Now().UTC()}
	if err := s.reports.Save(ctx, reportID, stored); err != nil {
		return dto.AnalysisResponse{}, fmt.Errorf("store report: %w", err)
	}
	span.SetAttributes(attribute.String("analysis.report_id", reportID))

	criteria := len(rb.Gradeable())
	correlationID := middleware.CorrelationIDFromContext(ctx)
	if s.events != nil {
		s.events.ReportReady(ctx, ReportReadyEvent{
			ReportID:       reportID,
			CorrelationID:  correlationID,
			Project:        projectName(req.Project.Filename),
			FileName:       fileName,
			GradingSkipped: outcome.Skipped,
			GradingFailed:  outcome.Err != "",
			Criteria:       criteria,
			Graded:         len(outcome.Breakdown),
			ExpiresAt:      stored.CreatedAt.Add(s.config.ReportTTL),
		})
	}

	s.logger.Info().
		Str("correlation_id", correlationID).
		Str("report_id", reportID).
		Int("criteria", criteria).
		Int("graded", len(outcome.Breakdown)).
		Bool("grading_skipped", outcome.Skipped).
		Str("grading_error", outcome.Err).
		Msg("analysis completed")

	return s.buildResponse(reportID, fileName, rb, bundle, outcome, rep), nil
}

func (s *analysisService) Download(ctx context.Context, id string) (repository.StoredReport, error) {
	stored, err := s.reports.Take(ctx, strings.TrimSpace(id))
	if err != nil {
		result := "error"
		if errors.Is(err, repository.ErrReportNotFound) {
			result = "not_found"
		}
		observability.ReportDownloads().WithLabelValues(result).Inc()
		return repository.StoredReport{}, err
	}
	observability.ReportDownloads().WithLabelValues("served").Inc()
	return stored, nil
}

func (s *analysisService) validateRequest(req dto.AnalysisRequest) error {
	if err := s.validator.Struct(req); err != nil {
		observability.UploadRejected().WithLabelValues("missing").Inc()
		return fmt.Errorf("%w: rubricFile, projectZip and requirementsFile are required", ErrInvalidUpload)
	}

	checks := []struct {
		label      string
		file       *multipart.FileHeader
		extensions []string
		maxBytes   int64
	}{
		{"rubric", req.Rubric, rubric.SupportedExtensions, s.config.MaxRubricBytes},
		{"project zip", req.Project, projectExtensions, s.config.MaxProjectBytes},
		{"requirements", req.Requirements, requirementsExtensions, s.config.MaxRequirementsBytes},
	}
	for _, check := range checks {
		ext := strings.ToLower(filepath.Ext(check.file.Filename))
		if !lo.Contains(check.extensions, ext) {
			observability.UploadRejected().WithLabelValues("type").Inc()
			return fmt.Errorf("%w: unsupported %s file type %q, allowed: %s", ErrInvalidUpload, check.label, ext, strings.Join(check.extensions, ", "))
		}
		if check.file.Size > check.maxBytes {
			observability.UploadRejected().WithLabelValues("size").Inc()
			return fmt.Errorf("%w: %s file exceeds the %d MB limit", ErrUploadTooLarge, check.label, check.maxBytes/(1024*1024))
		}
	}
	return nil
}

func (s *analysisService) loadRubric(path string) (rubric.Rubric, error) {
	file, err := os.Open(path)
	if err != nil {
		return rubric.Rubric{}, err
	}
	defer file.Close()

	rb, err := s.inferrer.Infer(path, file)
	if err != nil {
		if errors.Is(err, rubric.ErrSchemaInference) {
			return rubric.Rubric{}, err
		}
		return rubric.Rubric{}, fmt.Errorf("%w: failed to process evaluation rubric: %v", ErrInvalidUpload, err)
	}
	return rb, nil
}

func (s *analysisService) buildResponse(id, fileName string, rb rubric.Rubric, bundle content.Bundle, outcome GradingOutcome, rep report.Report) dto.AnalysisResponse {
	return dto.AnalysisResponse{
		ReportID:       id,
		FileName:       fileName,
		DownloadURL:    fmt.Sprintf(s.config.DownloadPath, id),
		TableHTML:      rep.HTML,
		GradingError:   outcome.Err,
		GradingSkipped: outcome.Skipped,
		Overall: dto.OverallResponse{
			TotalScore: outcome.Overall.TotalScore,
			Feedback:   outcome.Overall.Feedback,
		},
		Consistency: dto.ConsistencyResponse{
			Clean:      outcome.Consistency.Clean(),
			Missing:    nonNil(outcome.Consistency.Missing),
			Malformed:  nonNil(outcome.Consistency.Malformed),
			Unexpected: nonNil(outcome.Consistency.Unexpected),
			Duplicates: nonNil(outcome.Consistency.Duplicates),
			NameMismatches: lo.Map(outcome.Consistency.NameMismatches, func(m NameMismatch, _ int) dto.NameMismatchResponse {
				return dto.NameMismatchResponse{CriterionID: m.CriterionID, Expected: m.Expected, Returned: m.Returned}
			}),
		},
		Rubric: dto.RubricSummaryResponse{
			HeaderRow: rb.Table.HeaderRow,
			Roles:     rb.Roles.AsMap(),
			Criteria:  len(rb.Gradeable()),
		},
		Content: dto.ContentSummaryResponse{
			TextFiles: len(bundle.Texts),
			TextChars: bundle.TotalChars,
			Images:    len(bundle.Images),
			Videos:    nonNil(bundle.Videos),
			Skipped: lo.Map(bundle.Skipped, func(d content.Diagnostic, _ int) dto.SkippedFileResponse {
				return dto.SkippedFileResponse{Path: d.Path, Reason: d.Reason}
			}),
		},
	}
}

// saveUpload copies an upload into dir under a sanitized name, enforcing maxBytes on
// the actual stream.
func saveUpload(header *multipart.FileHeader, dir string, maxBytes int64) (string, error) {
	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	defer src.Close()

	path := filepath.Join(dir, sanitizeFileName(header.Filename))
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}

	written, copyErr := io.Copy(dst, io.LimitReader(src, maxBytes+1))
	closeErr := dst.Close()
	if copyErr != nil {
		return "", copyErr
	}
	if closeErr != nil {
		return "", closeErr
	}
	if written > maxBytes {
		observability.UploadRejected().WithLabelValues("size").Inc()
		return "", fmt.Errorf("%w: %s", ErrUploadTooLarge, header.Filename)
	}
	return path, nil
}

func sanitizeFileName(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.ToLower(base)
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, base)
	base = strings.Trim(base, "-")
	if base == "" {
		base = "upload-" + uuid.NewString()[:8]
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".bin"
	}
	return base + ext
}

// projectName is the archive file name without its extension, safe for a download name.
func projectName(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '"', ':', '*', '?', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, strings.TrimSpace(base))
	if base == "" {
		return "project"
	}
	return base
}

func stageTimer() func(stage string) {
	start := time.Now()
	return func(stage string) {
		observability.AnalysisStage().WithLabelValues(stage).Observe(time.Since(start).Seconds())
		start = time.Now()
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
