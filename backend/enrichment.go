package backend

import (
	"encoding/json"
	"fmt"
	"strings"
)

// enrichmentSystemPrompt builds the instruction every adapter sends asking
// the model to produce the uniform enrichment object for taskKind.
func enrichmentSystemPrompt(taskKind string) string {
	return fmt.Sprintf(
		"You analyze a single source code or documentation span for a %s task. "+
			"Respond with a single JSON object with exactly these fields: "+
			`"summary" (string), "inputs" (array of strings), "outputs" (array of strings), `+
			`"pitfalls" (array of strings), "tags" (array of strings). No prose outside the JSON.`,
		taskKind)
}

// enrichmentUserPrompt renders the span and its metadata as the user turn.
func enrichmentUserPrompt(req EnrichmentRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "path: %s\nslice_type: %s\n", req.Path, req.SliceType)
	if req.SubLanguage != "" {
		fmt.Fprintf(&b, "language: %s\n", req.SubLanguage)
	}
	b.WriteString("\n")
	b.WriteString(req.SpanText)
	return b.String()
}

// rawEnrichment is the JSON shape the prompt asks the model to produce.
type rawEnrichment struct {
	Summary  string   `json:"summary"`
	Inputs   []string `json:"inputs"`
	Outputs  []string `json:"outputs"`
	Pitfalls []string `json:"pitfalls"`
	Tags     []string `json:"tags"`
}

// parseEnrichmentJSON decodes and validates a model's raw text response
// against the uniform enrichment shape. A response that isn't valid JSON,
// or is missing the required summary, is treated as malformed — the
// router then fails the chain for this backend without retrying.
func parseEnrichmentJSON(text string) (EnrichmentResponse, error) {
	text = extractJSONObject(text)
	var raw rawEnrichment
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return EnrichmentResponse{}, fmt.Errorf("response is not a valid enrichment object: %w", err)
	}
	if strings.TrimSpace(raw.Summary) == "" {
		return EnrichmentResponse{}, fmt.Errorf("response is missing a summary")
	}
	return EnrichmentResponse{
		Summary:  raw.Summary,
		Inputs:   raw.Inputs,
		Outputs:  raw.Outputs,
		Pitfalls: raw.Pitfalls,
		Tags:     raw.Tags,
	}, nil
}

// extractJSONObject trims any leading/trailing prose a model adds despite
// instructions, by slicing from the first '{' to the last '}'.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return text
	}
	return text[start : end+1]
}
