package machine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/sessionModel"
)

const (
	msgScoringFailed      = "The scoring service rejected this resume and it cannot be evaluated. Please start over with a new document."
	msgScoringUnavailable = "The scoring service is unavailable right now. Your resume was received; please try again later."
	msgSessionTimeout     = "Your session took too long and was closed. Send the job profile again to start over."
	msgCancelled          = "Cancelled. Send a job profile to start a new session."

	msgReuploadAfterRestart = "I was restarted and lost the uploaded file. Please upload the resume again."
)

// FormatScoreReply builds the final user-facing result message.
func FormatScoreReply(score commonModels.ScoreResult) string {
	var b strings.Builder

	if score.FullName != "" {
		fmt.Fprintf(&b, "Candidate: %s\n", score.FullName)
	}
	fmt.Fprintf(&b, "Score: %d/100", score.Score)

	if len(score.Breakdown) > 0 {
		b.WriteString("\n")
		criteria := make([]string, 0, len(score.Breakdown))
		for name := range score.Breakdown {
			criteria = append(criteria, name)
		}
		sort.Strings(criteria)
		for _, name := range criteria {
			c := score.Breakdown[name]
			fmt.Fprintf(&b, "\n%s: %d", name, c.Score)
			if c.Comment != "" {
				fmt.Fprintf(&b, " (%s)", c.Comment)
			}
		}
	}

	return b.String()
}

func retryUploadMessage(kind sessionModel.ErrorKind, remaining int) string {
	return fmt.Sprintf("%s Please re-upload (%d attempt(s) left).", describeFailure(kind), remaining)
}

func attemptsExhaustedMessage(kind sessionModel.ErrorKind) string {
	return fmt.Sprintf("%s No upload attempts left; send a job profile to start a new session.", describeFailure(kind))
}

func describeFailure(kind sessionModel.ErrorKind) string {
	switch kind {
	case sessionModel.ErrDocumentTooLarge:
		return "That file is too large."
	case sessionModel.ErrMalformedDocument:
		return "That file could not be read as a PDF or Word document."
	case sessionModel.ErrUnsupportedFeature:
		return "That document uses features I cannot read (it may be password protected)."
	case sessionModel.ErrExtractionEmpty:
		return "No text could be extracted from that document (it may be scanned images)."
	default:
		return "That document could not be processed."
	}
}
