package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dslipak/pdf"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/config"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/pkg/logger_i"
)

type pdfExtractor struct{}

func (e *pdfExtractor) Extract(raw commonModels.RawDocument) (commonModels.CanonicalDocument, error) {
	logger := logger_i.NewLogger("pdfExtractor")
	doc := commonModels.CanonicalDocument{
		Format:      commonModels.PDF,
		FileName:    raw.FileName,
		ExtractedAt: time.Now(),
	}

	reader, err := openReader(raw.Bytes)
	if err != nil {
		if isEncryptedErr(err) {
			return doc, fmt.Errorf("%w: password-protected pdf: %v", ErrUnsupported, err)
		}
		return doc, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	numPages := reader.NumPage()
	doc.PageCount = numPages
	logger.Debug("opened pdf", "file", raw.FileName, "pages", numPages)

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		content, err := protectExtract(page)
		if err != nil {
			// image-only or undecodable pages contribute zero blocks,
			// the document-level emptiness check decides the outcome
			logger.Warn("page yielded no text", "page", i, "error", err)
			continue
		}

		paraIndex := 0
		for _, para := range strings.Split(content, "\n") {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}
			doc.Blocks = append(doc.Blocks, commonModels.TextBlock{
				PageNum:   i,
				ParaIndex: paraIndex,
				Text:      para,
			})
			paraIndex++
		}
	}

	return doc, nil
}

// openReader guards against the parser panicking on truncated cross-reference
// tables; any panic is reported as a malformed document.
func openReader(data []byte) (reader *pdf.Reader, err error) {
	defer func() {
		if r := recover(); r != nil {
			reader = nil
			err = fmt.Errorf("pdf parse panic: %v", r)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

// protectExtract bounds a single page's text extraction; some layouts loop
// the analyzer for a very long time.
func protectExtract(page pdf.Page) (string, error) {
	type result struct {
		content string
		err     error
	}
	resChan := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resChan <- result{"", fmt.Errorf("page extract panic: %v", r)}
			}
		}()
		content, err := page.GetPlainText(nil)
		resChan <- result{content, err}
	}()

	select {
	case r := <-resChan:
		return r.content, r.err
	case <-time.After(config.PageExtractTimeout):
		return "", errors.New("page extraction timeout")
	}
}

func isEncryptedErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "encrypt") || strings.Contains(msg, "password")
}
