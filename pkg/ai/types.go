package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ProjectFile is one admitted text file of the submission.
type ProjectFile struct {
	Path    string
	Content string
}

// ImageInput is a screenshot attached to the grading prompt.
type ImageInput struct {
	Path     string
	MIMEType string
	Base64   string
}

// DataURL renders the image as an inline data URL.
func (i ImageInput) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + i.Base64
}

// GradingRequest contains everything the grader needs to score a submission.
type GradingRequest struct {
	Criteria       []map[string]interface{}
	RubricMarkdown string
	Requirements   string
	Files          []ProjectFile
	Images         []ImageInput
	HasVideo       bool
}

// CriterionGrade is the grader's verdict for one rubric row.
type CriterionGrade struct {
	CriterionID   int    `json:"criterion_id"`
	CriterionName string `json:"criterion_name"`
	Score         Score  `json:"score_achieved"`
	Comments      string `json:"comments"`
}

// MalformedGrade is a grade entry that could not be read. Position is its index in
// the grades array of the reply.
type MalformedGrade struct {
	Position int
	Reason   string
}

// GradingResponse is the decoded grader output.
type GradingResponse struct {
	OverallTotalScore Score            `json:"overall_total_score"`
	OverallFeedback   string           `json:"overall_feedback"`
	Grades            []CriterionGrade `json:"grades"`
	Malformed         []MalformedGrade `json:"-"`
}

// OverallResult is the summary line shown below the breakdown.
type OverallResult struct {
	TotalScore string `json:"total_score"`
	Feedback   string `json:"overall_feedback"`
}

// Grader describes a model capable of grading a project against a rubric.
type Grader interface {
	Grade(ctx context.Context, req GradingRequest) (GradingResponse, error)
}

// Score is a grader supplied score. Graders return numbers, numeric strings, "a/b"
// strings or null; Valid is false when no number could be read and Raw keeps the text.
type Score struct {
	Value float64
	Raw   string
	Valid bool
}

// NewScore builds a valid score.
func NewScore(value float64) Score {
	return Score{Value: value, Raw: strconv.FormatFloat(value, 'f', -1, 64), Valid: true}
}

// ParseScoreText reads a score from free text. "4/5" yields 4.
func ParseScoreText(raw string) Score {
	text := strings.TrimSpace(raw)
	value := text
	if idx := strings.Index(value, "/"); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return Score{Raw: text}
	}
	return Score{Value: parsed, Raw: text, Valid: true}
}

// UnmarshalJSON accepts numbers, strings and null.
func (s *Score) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*s = Score{}
		return nil
	}

	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*s = ParseScoreText(text)
		return nil
	}

	var number float64
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return fmt.Errorf("score must be a number or string: %w", err)
	}
	*s = NewScore(number)
	return nil
}

// MarshalJSON writes valid scores as numbers and everything else as its raw text.
func (s Score) MarshalJSON() ([]byte, error) {
	if s.Valid {
		return json.Marshal(s.Value)
	}
	if s.Raw == "" {
		return []byte("null"), nil
	}
	return json.Marshal(s.Raw)
}

// String renders the score as the grader wrote it.
func (s Score) String() string {
	if s.Raw == "" && s.Valid {
		return strconv.FormatFloat(s.Value, 'f', -1, 64)
	}
	return s.Raw
}
