package commonModels

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"
)

type DocFormat string

const (
	PDF  DocFormat = "PDF"
	DOCX DocFormat = "DOCX"
	ERR  DocFormat = "ERROR"
)

// RawDocument is the uploaded byte stream before extraction. It is never
// persisted past a successful extraction.
type RawDocument struct {
	FileName string    `json:"file_name"`
	Format   DocFormat `json:"format"`
	Size     int64     `json:"size"`
	Bytes    []byte    `json:"bytes"`
}

type StyleHint string

const (
	StyleHeading StyleHint = "heading"
	StyleBody    StyleHint = "body"
)

// TextBlock is one ordered unit of extracted text. PageNum is 1 for formats
// without pages.
type TextBlock struct {
	PageNum   int       `json:"page_num"`
	ParaIndex int       `json:"para_index"`
	Text      string    `json:"text"`
	Style     StyleHint `json:"style,omitempty"`
}

// CanonicalDocument is the format-independent representation both extractors
// produce. Block order matches source document order.
type CanonicalDocument struct {
	Format      DocFormat   `json:"format"`
	FileName    string      `json:"file_name"`
	PageCount   int         `json:"page_count"`
	Blocks      []TextBlock `json:"blocks"`
	ExtractedAt time.Time   `json:"extracted_at"`
}

// FullText concatenates every block in order; this is the exact payload sent
// for scoring.
func (d *CanonicalDocument) FullText() string {
	var b strings.Builder
	for i, block := range d.Blocks {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(block.Text)
	}
	return b.String()
}

// Empty reports that no page yielded any extractable text.
func (d *CanonicalDocument) Empty() bool {
	for _, block := range d.Blocks {
		if strings.TrimSpace(block.Text) != "" {
			return false
		}
	}
	return true
}

// ContentHash is used for idempotent document persistence across retries.
func (d *CanonicalDocument) ContentHash() string {
	sum := md5.Sum([]byte(d.FullText()))
	return hex.EncodeToString(sum[:])
}

type CriterionScore struct {
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

// ScoreResult is the scoring service's verdict for one session. Immutable
// once stored.
type ScoreResult struct {
	Score      int                       `json:"score"`
	FullName   string                    `json:"full_name,omitempty"`
	Breakdown  map[string]CriterionScore `json:"breakdown,omitempty"`
	RawPayload []byte                    `json:"raw_payload,omitempty"`
	Model      string                    `json:"model,omitempty"`
	CreatedAt  time.Time                 `json:"created_at"`
}
