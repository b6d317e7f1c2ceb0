package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
)

type docxExtractor struct{}

func (e *docxExtractor) Extract(raw commonModels.RawDocument) (commonModels.CanonicalDocument, error) {
	doc := commonModels.CanonicalDocument{
		Format:      commonModels.DOCX,
		FileName:    raw.FileName,
		PageCount:   1,
		ExtractedAt: time.Now(),
	}

	if bytes.HasPrefix(raw.Bytes, cfbMagic) {
		// OLE compound file: either a legacy .doc or a password-protected
		// OOXML package, neither of which this extractor can decode
		return doc, fmt.Errorf("%w: OLE container (legacy or encrypted Word file)", ErrUnsupported)
	}

	zipReader, err := zip.NewReader(bytes.NewReader(raw.Bytes), int64(len(raw.Bytes)))
	if err != nil {
		return doc, fmt.Errorf("%w: not a DOCX archive: %v", ErrMalformed, err)
	}

	var documentFile *zip.File
	for _, file := range zipReader.File {
		if file.Name == "word/document.xml" {
			documentFile = file
			break
		}
	}
	if documentFile == nil {
		return doc, fmt.Errorf("%w: word/document.xml not found", ErrMalformed)
	}

	xmlFile, err := documentFile.Open()
	if err != nil {
		return doc, fmt.Errorf("%w: cannot open document.xml: %v", ErrMalformed, err)
	}
	defer xmlFile.Close()

	blocks, err := walkParagraphs(xmlFile)
	if err != nil {
		return doc, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	doc.Blocks = blocks

	return doc, nil
}

// walkParagraphs streams document.xml in token order. Table cells hold plain
// w:p elements, so walking every paragraph in stream order flattens tables
// row-major for free.
func walkParagraphs(r io.Reader) ([]commonModels.TextBlock, error) {
	decoder := xml.NewDecoder(r)

	var (
		blocks    []commonModels.TextBlock
		paraIndex int
		inPara    bool
		inText    bool
		style     string
		text      strings.Builder
	)

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document.xml parse: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				style = ""
				text.Reset()
			case "t":
				inText = inPara
			case "pStyle":
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" {
						style = attr.Value
					}
				}
			case "tab":
				if inPara {
					text.WriteString("\t")
				}
			}
		case xml.CharData:
			if inText {
				text.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				inPara = false
				content := strings.TrimSpace(text.String())
				if content == "" {
					continue
				}
				blocks = append(blocks, commonModels.TextBlock{
					PageNum:   1,
					ParaIndex: paraIndex,
					Text:      content,
					Style:     styleHint(style),
				})
				paraIndex++
			}
		}
	}

	return blocks, nil
}

func styleHint(style string) commonModels.StyleHint {
	lower := strings.ToLower(style)
	if strings.HasPrefix(lower, "heading") || lower == "title" {
		return commonModels.StyleHeading
	}
	if style == "" {
		return ""
	}
	return commonModels.StyleBody
}
