package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = "You are a precise grader outputting structured JSON."

const videoGuidance = "Video file detected. Assume video-related criteria are met."

const responseShape = "```json\n" + `{
    "overall_total_score": "Total calculated score (numeric if possible)",
    "overall_feedback": "A comprehensive summary of the project's performance.",
    "grades": [ { "criterion_id": 0, "criterion_name": "The EXACT name of the criterion from the list", "score_achieved": 4.0, "comments": "Specific justification for this score." } ]
}` + "\n```\n"

// BuildPrompt renders the user prompt text. Images travel as separate message parts.
func BuildPrompt(req GradingRequest) (string, error) {
	criteria := req.Criteria
	if criteria == nil {
		criteria = []map[string]interface{}{}
	}
	criteriaJSON, err := json.MarshalIndent(criteria, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode criteria: %w", err)
	}

	builder := strings.Builder{}
	builder.WriteString("You are an expert software project grader. Evaluate a project based on the rubric, requirements, and project files.\n")
	builder.WriteString("**Evaluation Rubric (for context):**\n")
	builder.WriteString(req.RubricMarkdown)
	builder.WriteString("\n**List of Specific Criteria to Grade:**\n")
	builder.WriteString("This is the definitive list. You MUST provide a grade for EACH object in this JSON array.\n")
	builder.WriteString("```json\n")
	builder.Write(criteriaJSON)
	builder.WriteString("\n```\n")
	builder.WriteString("**Project Requirements:**\n")
	builder.WriteString(req.Requirements)
	builder.WriteString("\n**Project Content:**\n(Code, configs, etc. from the project submission follow)\n")
	for _, file := range req.Files {
		builder.WriteString("File: ")
		builder.WriteString(file.Path)
		builder.WriteString("\n```\n")
		builder.WriteString(file.Content)
		builder.WriteString("\n```\n")
	}
	builder.WriteString("End of Project Content.\n")
	builder.WriteString("**Visual Analysis:**\n")
	builder.WriteString(fmt.Sprintf("%d UI screenshots are provided.", len(req.Images)))
	if req.HasVideo {
		builder.WriteString(" ")
		builder.WriteString(videoGuidance)
	}
	builder.WriteString("\n---\n")
	builder.WriteString("**Grading Task:**\nProvide a grade for EACH criterion from the \"List of Specific Criteria to Grade\".\n")
	builder.WriteString("**Output your response STRICTLY as a single JSON object. Do not include any other text.**\n")
	builder.WriteString("The JSON object must have this structure:\n")
	builder.WriteString(responseShape)
	builder.WriteString("**CRITICAL:** The `criterion_id` in your output MUST EXACTLY MATCH the `criterion_id` from the list I provided. ")
	builder.WriteString("The `criterion_name` should also be returned exactly as provided.\n")
	return builder.String(), nil
}
