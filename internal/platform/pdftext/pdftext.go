// Package pdftext pulls the plain text layer out of PDF documents.
package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// ErrUnreadable is returned for input that is not a parseable PDF.
var ErrUnreadable = errors.New("pdf could not be read")

// Document is the text recovered from a PDF.
type Document struct {
	Text      string
	PageCount int
}

// Extractor turns PDF bytes into text.
type Extractor interface {
	Extract(data []byte) (Document, error)
}

// Reader extracts text with github.com/ledongthuc/pdf. MaxTextSize bounds
// the amount of text returned; zero means unbounded.
type Reader struct {
	MaxTextSize int64
}

// Extract parses data. The parser panics on some malformed inputs; those
// panics are reported as ErrUnreadable.
func (r Reader) Extract(data []byte) (doc Document, err error) {
	if len(data) == 0 {
		return Document{}, ErrUnreadable
	}
	defer func() {
		if p := recover(); p != nil {
			doc, err = Document{}, fmt.Errorf("%w: %v", ErrUnreadable, p)
		}
	}()

	pr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	plain, err := pr.GetPlainText()
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if r.MaxTextSize > 0 {
		plain = io.LimitReader(plain, r.MaxTextSize)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return Document{Text: buf.String(), PageCount: pr.NumPage()}, nil
}
