package ai

import "strings"

// StripCodeFence removes a surrounding markdown code block if present
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimSuffix(text, "```")
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
	}
	return strings.TrimSpace(text)
}

// ExtractJSON returns the outermost JSON object or array found in a model response.
// Models often wrap the document in prose or a code fence.
func ExtractJSON(text string) string {
	text = StripCodeFence(text)
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")

	closer := "}"
	start := objStart
	if arrStart != -1 && (objStart == -1 || arrStart < objStart) {
		closer = "]"
		start = arrStart
	}
	if start == -1 {
		return text
	}
	end := strings.LastIndex(text, closer)
	if end <= start {
		return text
	}
	return text[start : end+1]
}

// FirstJSONObject returns the first flat {...} span of text, or "" when there is none
func FirstJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	end := strings.Index(text[start:], "}")
	if end == -1 {
		return ""
	}
	return text[start : start+end+1]
}
