package scoring

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
)

type scorePayload struct {
	FullName  string                                `json:"full_name"`
	Score     *int                                  `json:"score"`
	Breakdown map[string]commonModels.CriterionScore `json:"breakdown"`
}

// parseScoreResult decodes the model's JSON verdict. Models occasionally wrap
// the object in markdown fences or surrounding prose despite instructions, so
// the first balanced object is carved out before decoding.
func parseScoreResult(content string) (commonModels.ScoreResult, error) {
	var result commonModels.ScoreResult

	jsonText := extractJSONObject(content)
	if jsonText == "" {
		return result, fmt.Errorf("%w: no JSON object in reply", ErrBadResponse)
	}

	var payload scorePayload
	if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
		return result, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	if payload.Score == nil {
		return result, fmt.Errorf("%w: score field missing", ErrBadResponse)
	}
	if *payload.Score < 0 || *payload.Score > 100 {
		return result, fmt.Errorf("%w: score %d outside [0,100]", ErrBadResponse, *payload.Score)
	}
	for name, criterion := range payload.Breakdown {
		if criterion.Score < 0 || criterion.Score > 100 {
			return result, fmt.Errorf("%w: criterion %q score %d outside [0,100]", ErrBadResponse, name, criterion.Score)
		}
	}

	result.Score = *payload.Score
	result.FullName = payload.FullName
	result.Breakdown = payload.Breakdown
	result.RawPayload = []byte(content)

	return result, nil
}

// extractJSONObject returns the first balanced top-level {...} in the text,
// stripping any markdown fence around it.
func extractJSONObject(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
	}

	start := strings.Index(content, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}
