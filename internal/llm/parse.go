// File: internal/llm/parse.go
package llm

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// Regex definitions use \x60 (hex representation) for backticks because Go
// raw strings cannot contain backticks.
var (
	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
)

// StripCodeFence removes a markdown code fence from around text. Truncated
// responses that open a fence without closing it lose only the opening line.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if matches := jsonObjectRegex.FindStringSubmatch(text); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	lines := strings.Split(text, "\n")
	if strings.HasSuffix(text, "```") && len(lines) >= 2 {
		return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
	}
	return strings.TrimSpace(strings.Join(lines[1:], "\n"))
}

// ExtractJSON pulls the JSON object out of an LLM response, tolerating
// markdown fences and surrounding conversational text.
func ExtractJSON(response string) (string, error) {
	response = StripCodeFence(response)

	if strings.HasPrefix(response, "{") {
		return response, nil
	}

	// Attempt to find the object within conversational text.
	first := strings.Index(response, "{")
	last := strings.LastIndex(response, "}")
	if first != -1 && last != -1 && last > first {
		return response[first : last+1], nil
	}

	return "", fmt.Errorf("no JSON object found in response")
}

// ParseJSON decodes an LLM response into a target Go type, handling common
// formatting issues such as markdown wrapping.
func ParseJSON[T any](response string) (*T, error) {
	extracted, err := ExtractJSON(response)
	if err != nil {
		return nil, err
	}

	var result T
	if err := json.Unmarshal([]byte(extracted), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s",
			err, truncateString(extracted, 500))
	}
	return &result, nil
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	// Simple truncation; does not account for rune boundaries but sufficient for error logging.
	return s[:maxLen] + "..."
}
