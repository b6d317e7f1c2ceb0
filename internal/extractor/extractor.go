package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
)

// Extraction failure classes. Malformed and Unsupported are terminal for the
// attempt; the user has to re-upload. Empty means the parse succeeded but no
// page carried extractable text (scanned documents).
var (
	ErrMalformed   = errors.New("malformed document")
	ErrUnsupported = errors.New("unsupported document feature")
	ErrEmpty       = errors.New("no extractable text")
)

// Extractor turns raw uploaded bytes into the canonical block representation.
// Implementations are pure: all I/O happens before Extract is called.
type Extractor interface {
	Extract(raw commonModels.RawDocument) (commonModels.CanonicalDocument, error)
}

// ForFormat selects the extractor variant. New formats add a case here, not a
// new layer.
func ForFormat(format commonModels.DocFormat) (Extractor, error) {
	switch format {
	case commonModels.PDF:
		return &pdfExtractor{}, nil
	case commonModels.DOCX:
		return &docxExtractor{}, nil
	default:
		return nil, fmt.Errorf("%w: no extractor for format %q", ErrUnsupported, format)
	}
}

var (
	pdfMagic = []byte("%PDF-")
	zipMagic = []byte("PK\x03\x04")
	cfbMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// DetectFormat sniffs the leading magic bytes and falls back to the file
// extension. A CFB container is a legacy or encrypted Office file, which the
// DOCX extractor rejects as unsupported later with a clearer error.
func DetectFormat(data []byte, fileName string) commonModels.DocFormat {
	if bytes.HasPrefix(data, pdfMagic) {
		return commonModels.PDF
	}
	if bytes.HasPrefix(data, zipMagic) || bytes.HasPrefix(data, cfbMagic) {
		return commonModels.DOCX
	}

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return commonModels.PDF
	case ".docx":
		return commonModels.DOCX
	default:
		return commonModels.ERR
	}
}
