package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidResponse indicates the grader output does not have the expected shape.
var ErrInvalidResponse = errors.New("invalid grader response")

const gradingResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["grades"],
  "properties": {
    "overall_total_score": {"type": ["number", "string", "null"]},
    "overall_feedback": {"type": ["string", "null"]},
    "grades": {"type": "array"}
  }
}`

const criterionGradeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["criterion_id"],
  "properties": {
    "criterion_id": {
      "oneOf": [
        {"type": "integer"},
        {"type": "string", "pattern": "^\\s*-?[0-9]+\\s*$"}
      ]
    },
    "criterion_name": {"type": ["string", "null"]},
    "score_achieved": {"type": ["number", "string", "null"]},
    "comments": {"type": ["string", "null"]}
  }
}`

var (
	responseSchema = jsonschema.MustCompileString("grading_response.schema.json", gradingResponseSchema)
	gradeSchema    = jsonschema.MustCompileString("criterion_grade.schema.json", criterionGradeSchema)
)

// ParseGradingResponse validates the grader output and decodes it. The envelope must
// match the response schema; grade entries are checked one by one and unreadable ones
// are dropped and listed in Malformed by their position. Markdown code fences around
// the object are tolerated.
func ParseGradingResponse(content []byte) (GradingResponse, error) {
	body := stripCodeFence(content)

	var document interface{}
	if err := json.Unmarshal(body, &document); err != nil {
		return GradingResponse{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := responseSchema.Validate(document); err != nil {
		return GradingResponse{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	var envelope struct {
		OverallTotalScore Score             `json:"overall_total_score"`
		OverallFeedback   *string           `json:"overall_feedback"`
		Grades            []json.RawMessage `json:"grades"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return GradingResponse{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	response := GradingResponse{
		OverallTotalScore: envelope.OverallTotalScore,
		Grades:            make([]CriterionGrade, 0, len(envelope.Grades)),
	}
	if envelope.OverallFeedback != nil {
		response.OverallFeedback = *envelope.OverallFeedback
	}
	for position, raw := range envelope.Grades {
		grade, err := decodeGrade(raw)
		if err != nil {
			response.Malformed = append(response.Malformed, MalformedGrade{Position: position, Reason: err.Error()})
			continue
		}
		response.Grades = append(response.Grades, grade)
	}
	return response, nil
}

func decodeGrade(raw json.RawMessage) (CriterionGrade, error) {
	var item interface{}
	if err := json.Unmarshal(raw, &item); err != nil {
		return CriterionGrade{}, err
	}
	if err := gradeSchema.Validate(item); err != nil {
		return CriterionGrade{}, err
	}
	var grade CriterionGrade
	if err := json.Unmarshal(raw, &grade); err != nil {
		return CriterionGrade{}, err
	}
	return grade, nil
}

// UnmarshalJSON accepts criterion ids given as numbers or numeric strings and null text
// fields.
func (g *CriterionGrade) UnmarshalJSON(data []byte) error {
	var payload struct {
		CriterionID   json.RawMessage `json:"criterion_id"`
		CriterionName *string         `json:"criterion_name"`
		Score         Score           `json:"score_achieved"`
		Comments      *string         `json:"comments"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	id, err := parseCriterionID(payload.CriterionID)
	if err != nil {
		return err
	}

	*g = CriterionGrade{CriterionID: id, Score: payload.Score}
	if payload.CriterionName != nil {
		g.CriterionName = strings.TrimSpace(*payload.CriterionName)
	}
	if payload.Comments != nil {
		g.Comments = *payload.Comments
	}
	return nil
}

func parseCriterionID(raw json.RawMessage) (int, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0, fmt.Errorf("criterion_id is required")
	}
	if strings.HasPrefix(text, `"`) {
		var unquoted string
		if err := json.Unmarshal(raw, &unquoted); err != nil {
			return 0, err
		}
		text = strings.TrimSpace(unquoted)
	}
	if id, err := strconv.Atoi(text); err == nil {
		return id, nil
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil || value != float64(int(value)) {
		return 0, fmt.Errorf("criterion_id %s is not an integer", text)
	}
	return int(value), nil
}

func stripCodeFence(content []byte) []byte {
	body := bytes.TrimSpace(content)
	if !bytes.HasPrefix(body, []byte("```")) {
		return body
	}
	body = bytes.TrimPrefix(body, []byte("```"))
	if idx := bytes.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	}
	body = bytes.TrimSuffix(bytes.TrimSpace(body), []byte("```"))
	return bytes.TrimSpace(body)
}
