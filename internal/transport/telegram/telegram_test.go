package telegram

import (
	"testing"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
)

func TestDeclaredFormat(t *testing.T) {
	cases := []struct {
		name     string
		fileName string
		mimeType string
		want     commonModels.DocFormat
	}{
		{"pdf mime wins", "weird.bin", "application/pdf", commonModels.PDF},
		{"docx mime wins", "weird.bin", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", commonModels.DOCX},
		{"pdf extension", "resume.PDF", "", commonModels.PDF},
		{"docx extension", "resume.docx", "application/octet-stream", commonModels.DOCX},
		{"legacy doc extension", "resume.doc", "", commonModels.DOCX},
		{"unknown", "resume.txt", "text/plain", commonModels.ERR},
	}
	for _, tc := range cases {
		if got := declaredFormat(tc.fileName, tc.mimeType); got != tc.want {
			t.Errorf("%s: declaredFormat(%q, %q) = %v, want %v", tc.name, tc.fileName, tc.mimeType, got, tc.want)
		}
	}
}
