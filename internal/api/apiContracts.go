package api

import "time"

type SessionResponse struct {
	Id              string           `json:"id" example:"f2b9c8d4-1e0a-4f5b-9a3c-7d6e5f4a3b2c"`
	UserId          int64            `json:"user_id" example:"123456789"`
	State           string           `json:"state" example:"Scoring"`
	ExtractAttempts int              `json:"extract_attempts"`
	Error           *SessionErrorOut `json:"error,omitempty"`
	Score           *ScoreOut        `json:"score,omitempty"`
	Transitions     []TransitionOut  `json:"transitions,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type SessionErrorOut struct {
	Kind    string `json:"kind" example:"ScoringUnavailable"`
	Message string `json:"message,omitempty"`
	Retry   bool   `json:"can_retry" example:"false"`
}

type ScoreOut struct {
	Score     int                          `json:"score" example:"87"`
	FullName  string                       `json:"full_name,omitempty"`
	Breakdown map[string]CriterionScoreOut `json:"breakdown,omitempty"`
	Model     string                       `json:"model,omitempty"`
	CreatedAt time.Time                    `json:"created_at"`
}

type CriterionScoreOut struct {
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

type TransitionOut struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

type ErrorResponse struct {
	Code    int    `json:"code" example:"404"`
	Message string `json:"message" example:"Session not found"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}
