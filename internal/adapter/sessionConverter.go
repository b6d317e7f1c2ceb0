package adapter

import (
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/api"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/sessionModel"
)

func ToSessionResponse(session sessionModel.Session, transitions []sessionModel.Transition, score *commonModels.ScoreResult) api.SessionResponse {

	var errorPtr *api.SessionErrorOut
	if session.LastError.Kind != sessionModel.ErrNone {
		errorPtr = &api.SessionErrorOut{
			Kind:    string(session.LastError.Kind),
			Message: session.LastError.Message,
			Retry:   session.LastError.Retry,
		}
	}

	out := api.SessionResponse{
		Id:              session.Id,
		UserId:          session.UserId,
		State:           string(session.State),
		ExtractAttempts: session.ExtractAttempts,
		Error:           errorPtr,
		CreatedAt:       session.CreatedAt,
		UpdatedAt:       session.UpdatedAt,
	}

	for _, tr := range transitions {
		out.Transitions = append(out.Transitions, api.TransitionOut{
			From: string(tr.From),
			To:   string(tr.To),
			At:   tr.At,
		})
	}

	if score != nil {
		out.Score = ToScoreOut(*score)
	}
	return out
}

func ToScoreOut(score commonModels.ScoreResult) *api.ScoreOut {
	out := &api.ScoreOut{
		Score:     score.Score,
		FullName:  score.FullName,
		Model:     score.Model,
		CreatedAt: score.CreatedAt,
	}
	if len(score.Breakdown) > 0 {
		out.Breakdown = make(map[string]api.CriterionScoreOut, len(score.Breakdown))
		for name, c := range score.Breakdown {
			out.Breakdown[name] = api.CriterionScoreOut{Score: c.Score, Comment: c.Comment}
		}
	}
	return out
}

func BadRequest(message string, code int) api.ErrorResponse {
	return api.ErrorResponse{
		Code:    code,
		Message: message,
	}
}
