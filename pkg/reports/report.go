// Package reports validates lab test reports attached to donated units.
package reports

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxReportBytes caps an uploaded report.
const MaxReportBytes = 10 << 20

const snippetLen = 200

var ErrInvalidReport = errors.New("invalid test report")

// Summary describes an accepted report.
type Summary struct {
	Pages   int
	Bytes   int
	Snippet string
}

// Inspect checks that data is a readable PDF with at least one page.
func Inspect(data []byte) (Summary, error) {
	if len(data) == 0 {
		return Summary{}, fmt.Errorf("%w: empty file", ErrInvalidReport)
	}
	if len(data) > MaxReportBytes {
		return Summary{}, fmt.Errorf("%w: larger than %d bytes", ErrInvalidReport, MaxReportBytes)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return Summary{}, fmt.Errorf("%w: not a pdf", ErrInvalidReport)
	}
	reader, err := openPDF(data)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	pages := reader.NumPage()
	if pages <= 0 {
		return Summary{}, fmt.Errorf("%w: no pages", ErrInvalidReport)
	}
	return Summary{
		Pages:   pages,
		Bytes:   len(data),
		Snippet: firstPageText(reader),
	}, nil
}

// openPDF recovers from parser panics on malformed input.
func openPDF(data []byte) (reader *pdf.Reader, err error) {
	defer func() {
		if r := recover(); r != nil {
			reader, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

func firstPageText(reader *pdf.Reader) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	page := reader.Page(1)
	if page.V.IsNull() {
		return ""
	}
	raw, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	raw = strings.Join(strings.Fields(raw), " ")
	if len(raw) > snippetLen {
		raw = raw[:snippetLen]
	}
	return raw
}
