package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/rubric"
	"github.com/noah-isme/gema-grader/internal/service"
)

type mockAnalysisService struct {
	lastRequest dto.AnalysisRequest
	response    dto.AnalysisResponse
	err         error
	reports     map[string]repository.StoredReport
}

func (m *mockAnalysisService) Analyze(_ context.Context, req dto.AnalysisRequest) (dto.AnalysisResponse, error) {
	m.lastRequest = req
	if m.err != nil {
		return dto.AnalysisResponse{}, m.err
	}
	return m.response, nil
}

func (m *mockAnalysisService) Download(_ context.Context, id string) (repository.StoredReport, error) {
	stored, ok := m.reports[id]
	if !ok {
		return repository.StoredReport{}, repository.ErrReportNotFound
	}
	delete(m.reports, id)
	return stored, nil
}

func sampleAnalysisResponse() dto.AnalysisResponse {
	return dto.AnalysisResponse{
		ReportID:    "rep-1",
		FileName:    "todo-app_Grading_Report.xlsx",
		DownloadURL: "/api/v1/reports/rep-1/download",
		TableHTML:   `<table class="table table-striped table-bordered table-hover responsive-table"></table>`,
		Overall:     dto.OverallResponse{TotalScore: "8", Feedback: "Solid."},
		Consistency: dto.ConsistencyResponse{
			Clean:      false,
			Missing:    []int{1},
			Malformed:  []int{},
			Unexpected: []int{},
			Duplicates: []int{},
		},
		Rubric: dto.RubricSummaryResponse{
			HeaderRow: 0,
			Roles:     map[string]string{"criterion": "Criterion", "max_score": "Max Score"},
			Criteria:  3,
		},
		Content: dto.ContentSummaryResponse{
			TextFiles: 2,
			TextChars: 40,
			Videos:    []string{},
			Skipped:   []dto.SkippedFileResponse{{Path: "big.log", Reason: "too_large"}},
		},
	}
}

func newAnalysisApp(svc service.AnalysisService) *fiber.App {
	app := fiber.New()
	handler.NewAnalysisHandler(svc, zerolog.New(io.Discard)).Register(app.Group("/api/v1"), nil)
	return app
}

func analysisForm(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for field, name := range files {
		part, err := writer.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write([]byte("content of " + name))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func postAnalysis(t *testing.T, app *fiber.App, files map[string]string) *http.Response {
	t.Helper()
	body, contentType := analysisForm(t, files)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func fullForm() map[string]string {
	return map[string]string{
		"rubricFile":       "rubric.csv",
		"projectZip":       "todo-app.zip",
		"requirementsFile": "brief.pdf",
	}
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target))
}

func TestAnalysisHandler_Success(t *testing.T) {
	svc := &mockAnalysisService{response: sampleAnalysisResponse()}
	app := newAnalysisApp(svc)

	resp := postAnalysis(t, app, fullForm())
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var payload struct {
		Success bool                 `json:"success"`
		Message string               `json:"message"`
		Data    dto.AnalysisResponse `json:"data"`
	}
	decodeResponse(t, resp, &payload)

	require.True(t, payload.Success)
	require.Equal(t, "analysis completed", payload.Message)
	require.Equal(t, "rep-1", payload.Data.ReportID)
	require.Equal(t, []int{1}, payload.Data.Consistency.Missing)

	require.NotNil(t, svc.lastRequest.Rubric)
	require.Equal(t, "rubric.csv", svc.lastRequest.Rubric.Filename)
	require.Equal(t, "todo-app.zip", svc.lastRequest.Project.Filename)
	require.Equal(t, "brief.pdf", svc.lastRequest.Requirements.Filename)
}

func TestAnalysisHandler_PassesMissingFilesToService(t *testing.T) {
	svc := &mockAnalysisService{err: fmt.Errorf("%w: rubricFile, projectZip and requirementsFile are required", service.ErrInvalidUpload)}
	app := newAnalysisApp(svc)

	resp := postAnalysis(t, app, map[string]string{"rubricFile": "rubric.csv"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, svc.lastRequest.Rubric)
	require.Nil(t, svc.lastRequest.Project)
	require.Nil(t, svc.lastRequest.Requirements)

	var payload struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	decodeResponse(t, resp, &payload)
	require.False(t, payload.Success)
	require.Contains(t, payload.Message, "required")
}

func TestAnalysisHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"too large", fmt.Errorf("%w: rubric", service.ErrUploadTooLarge), fiber.StatusRequestEntityTooLarge},
		{"invalid", service.ErrInvalidUpload, fiber.StatusBadRequest},
		{"archive", fmt.Errorf("%w: zip: not a valid zip file", service.ErrArchiveUnreadable), fiber.StatusBadRequest},
		{"schema", &rubric.SchemaError{Columns: []string{"A", "B"}}, fiber.StatusUnprocessableEntity},
		{"requirements", service.ErrRequirementsUnreadable, fiber.StatusUnprocessableEntity},
		{"internal", errors.New("disk full"), fiber.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newAnalysisApp(&mockAnalysisService{err: tc.err})

			resp := postAnalysis(t, app, fullForm())
			require.Equal(t, tc.status, resp.StatusCode)

			var payload struct {
				Success bool   `json:"success"`
				Message string `json:"message"`
			}
			decodeResponse(t, resp, &payload)
			require.False(t, payload.Success)
			if tc.status == fiber.StatusInternalServerError {
				require.Equal(t, "analysis failed", payload.Message)
			}
		})
	}
}

func TestAnalysisHandler_GradingSkippedMessage(t *testing.T) {
	response := sampleAnalysisResponse()
	response.GradingSkipped = true
	app := newAnalysisApp(&mockAnalysisService{response: response})

	resp := postAnalysis(t, app, fullForm())
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var payload struct {
		Message string `json:"message"`
	}
	decodeResponse(t, resp, &payload)
	require.Equal(t, "analysis completed without AI grading", payload.Message)
}

func TestAnalysisHandler_DownloadOnce(t *testing.T) {
	workbook := []byte("PK\x03\x04workbook")
	svc := &mockAnalysisService{reports: map[string]repository.StoredReport{
		"rep-1": {FileName: "todo-app_Grading_Report.xlsx", Workbook: workbook},
	}}
	app := newAnalysisApp(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/rep-1/download", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header.Get("Content-Type"))
	require.Equal(t, `attachment; filename="todo-app_Grading_Report.xlsx"`, resp.Header.Get("Content-Disposition"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, workbook, body)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/reports/rep-1/download", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestAnalysisResponseContract(t *testing.T) {
	schemaPath, err := filepath.Abs(filepath.Join("testdata", "analysis_response.schema.json"))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)

	app := newAnalysisApp(&mockAnalysisService{response: sampleAnalysisResponse()})

	resp := postAnalysis(t, app, fullForm())
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.NoError(t, schema.Validate(payload))
}
