package scoring

import (
	"errors"
	"testing"
)

func TestParseScoreResultPlainJSON(t *testing.T) {
	content := `{"full_name":"Ivan Petrov","score":73,"breakdown":{"skills":{"score":80,"comment":"good match"},"experience":{"score":65,"comment":"short tenure"}}}`

	result, err := parseScoreResult(content)
	if err != nil {
		t.Fatalf("parseScoreResult returned error: %v", err)
	}
	if result.Score != 73 {
		t.Errorf("score = %d, want 73", result.Score)
	}
	if result.FullName != "Ivan Petrov" {
		t.Errorf("full name = %q", result.FullName)
	}
	if len(result.Breakdown) != 2 {
		t.Errorf("breakdown size = %d, want 2", len(result.Breakdown))
	}
	if string(result.RawPayload) != content {
		t.Error("raw payload should hold the original reply")
	}
}

func TestParseScoreResultMarkdownFence(t *testing.T) {
	content := "```json\n{\"full_name\":\"\",\"score\":42,\"breakdown\":{}}\n```"

	result, err := parseScoreResult(content)
	if err != nil {
		t.Fatalf("parseScoreResult returned error: %v", err)
	}
	if result.Score != 42 {
		t.Errorf("score = %d, want 42", result.Score)
	}
}

func TestParseScoreResultSurroundingProse(t *testing.T) {
	content := `Here is my evaluation: {"score": 15, "full_name": "A B"} I hope this helps.`

	result, err := parseScoreResult(content)
	if err != nil {
		t.Fatalf("parseScoreResult returned error: %v", err)
	}
	if result.Score != 15 {
		t.Errorf("score = %d, want 15", result.Score)
	}
}

func TestParseScoreResultBracesInsideStrings(t *testing.T) {
	content := `{"score": 60, "full_name": "X", "breakdown": {"notes": {"score": 60, "comment": "uses {braces} and \"quotes\""}}}`

	result, err := parseScoreResult(content)
	if err != nil {
		t.Fatalf("parseScoreResult returned error: %v", err)
	}
	if got := result.Breakdown["notes"].Comment; got != `uses {braces} and "quotes"` {
		t.Errorf("comment = %q", got)
	}
}

func TestParseScoreResultRejectsBadReplies(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"no json", "I cannot score this resume."},
		{"truncated", `{"score": 40, "full_name":`},
		{"missing score", `{"full_name":"A"}`},
		{"score too high", `{"score": 120}`},
		{"score negative", `{"score": -5}`},
		{"score not a number", `{"score": "great"}`},
		{"criterion out of range", `{"score": 50, "breakdown": {"x": {"score": 900, "comment": ""}}}`},
	}
	for _, tc := range cases {
		_, err := parseScoreResult(tc.content)
		if !errors.Is(err, ErrBadResponse) {
			t.Errorf("%s: expected ErrBadResponse, got %v", tc.name, err)
		}
	}
}
