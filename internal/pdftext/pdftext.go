// Package pdftext converts a PDF byte stream into plain text.
package pdftext

import (
	"bytes"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extract reads the stream as a PDF document and returns the concatenated
// page texts in document order, separated by newlines. The stream is rewound
// first, so prior partial reads by other code are tolerated. Any parse
// failure (corrupt content, encryption, data that is not a PDF at all)
// yields an empty string; whether "no text" is an error is the caller's call.
func Extract(stream io.ReadSeeker) (text string) {
	// The parser panics on some malformed inputs; treat that like any
	// other unreadable document.
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return ""
	}
	data, err := io.ReadAll(stream)
	if err != nil || len(data) == 0 {
		return ""
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, content)
	}

	return strings.Join(pages, "\n")
}
