package dto

import "mime/multipart"

// AnalysisRequest carries the three uploads of an analysis run.
type AnalysisRequest struct {
	Rubric       *multipart.FileHeader `validate:"required"`
	Project      *multipart.FileHeader `validate:"required"`
	Requirements *multipart.FileHeader `validate:"required"`
}

// OverallResponse is the grader's overall verdict.
type OverallResponse struct {
	TotalScore string `json:"total_score"`
	Feedback   string `json:"feedback"`
}

// NameMismatchResponse reports a grade whose criterion name was not echoed back.
type NameMismatchResponse struct {
	CriterionID int    `json:"criterion_id"`
	Expected    string `json:"expected"`
	Returned    string `json:"returned"`
}

// ConsistencyResponse lists mismatches between the rubric and the returned grades.
type ConsistencyResponse struct {
	Clean          bool                   `json:"clean"`
	Missing        []int                  `json:"missing"`
	Malformed      []int                  `json:"malformed"`
	Unexpected     []int                  `json:"unexpected"`
	Duplicates     []int                  `json:"duplicates"`
	NameMismatches []NameMismatchResponse `json:"name_mismatches"`
}

// SkippedFileResponse describes a project file left out of grading.
type SkippedFileResponse struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ContentSummaryResponse summarizes what was sent to the grader.
type ContentSummaryResponse struct {
	TextFiles int                   `json:"text_files"`
	TextChars int                   `json:"text_chars"`
	Images    int                   `json:"images"`
	Videos    []string              `json:"videos"`
	Skipped   []SkippedFileResponse `json:"skipped"`
}

// RubricSummaryResponse describes the inferred rubric layout.
type RubricSummaryResponse struct {
	HeaderRow int               `json:"header_row"`
	Roles     map[string]string `json:"roles"`
	Criteria  int               `json:"criteria"`
}

// AnalysisResponse is returned once the report is ready for download.
type AnalysisResponse struct {
	ReportID       string                 `json:"report_id"`
	FileName       string                 `json:"file_name"`
	DownloadURL    string                 `json:"download_url"`
	TableHTML      string                 `json:"table_html"`
	GradingError   string                 `json:"grading_error"`
	GradingSkipped bool                   `json:"grading_skipped"`
	Overall        OverallResponse        `json:"overall"`
	Consistency    ConsistencyResponse    `json:"consistency"`
	Rubric         RubricSummaryResponse  `json:"rubric"`
	Content        ContentSummaryResponse `json:"content"`
}
