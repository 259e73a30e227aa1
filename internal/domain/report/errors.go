package report

import "errors"

var (
	ErrFileRequired = errors.New("file is required")
	ErrFileTooLarge = errors.New("file too large")
	ErrNotPDF       = errors.New("only PDF files are allowed")
	ErrNotFound     = errors.New("report not found")
)
