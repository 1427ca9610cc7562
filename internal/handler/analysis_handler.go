package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/rubric"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Multipart field names of the analysis form.
const (
	fieldRubric       = "rubricFile"
	fieldProject      = "projectZip"
	fieldRequirements = "requirementsFile"
)

// AnalysisHandler exposes the grading pipeline over HTTP.
type AnalysisHandler struct {
	service service.AnalysisService
	logger  zerolog.Logger
}

// NewAnalysisHandler constructs an analysis handler.
func NewAnalysisHandler(service service.AnalysisService, logger zerolog.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		service: service,
		logger:  logger.With().Str("component", "analysis_handler").Logger(),
	}
}

// Register wires analysis routes. limit guards the analysis endpoint only.
func (h *AnalysisHandler) Register(router fiber.Router, limit fiber.Handler) {
	if limit != nil {
		router.Post("/analyses", limit, h.analyze)
	} else {
		router.Post("/analyses", h.analyze)
	}
	router.Get("/reports/:id/download", h.download)
}

func (h *AnalysisHandler) analyze(c *fiber.Ctx) error {
	req := dto.AnalysisRequest{}
	req.Rubric, _ = c.FormFile(fieldRubric)
	req.Project, _ = c.FormFile(fieldProject)
	req.Requirements, _ = c.FormFile(fieldRequirements)

	ctx := middleware.ContextWithCorrelation(c.UserContext(), middleware.GetCorrelationID(c))
	result, err := h.service.Analyze(ctx, req)
	if err != nil {
		status, message := analysisErrorStatus(err)
		if status == fiber.StatusInternalServerError {
			requestLogger(h.logger, c).Error().Err(err).Msg("analysis failed")
		} else {
			requestLogger(h.logger, c).Warn().Err(err).Int("status", status).Msg("analysis rejected")
		}
		return utils.SendError(c, status, message)
	}

	message := "analysis completed"
	switch {
	case result.GradingSkipped:
		message = "analysis completed without AI grading"
	case result.GradingError != "":
		message = "analysis completed, AI grading failed"
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, message, result)
}

func (h *AnalysisHandler) download(c *fiber.Ctx) error {
	stored, err := h.service.Download(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, repository.ErrReportNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "report not found or already downloaded")
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to load report")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load report")
	}

	return utils.SendAttachment(c, stored.FileName, xlsxContentType, stored.Workbook)
}

func analysisErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrUploadTooLarge):
		return fiber.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, service.ErrInvalidUpload), isValidationError(err):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrArchiveUnreadable):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, rubric.ErrSchemaInference):
		return fiber.StatusUnprocessableEntity, "could not identify the rubric columns: " + err.Error()
	case errors.Is(err, service.ErrRequirementsUnreadable):
		return fiber.StatusUnprocessableEntity, err.Error()
	default:
		return fiber.StatusInternalServerError, "analysis failed"
	}
}
