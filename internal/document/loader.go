// Package document reads handbook sources and the structured clause file.
package document

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"handbookrag/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// LoadText returns the plain text of a .txt, .md or .pdf file.
func LoadText(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt", ".md", ".text":
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(bytes.TrimPrefix(b, utf8BOM)), nil
	case ".pdf":
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		return ExtractPDFText(f)
	default:
		return "", fmt.Errorf("%w: unsupported document type %q", domain.ErrInvalidArgument, ext)
	}
}

// ExtractPDFText reads the entire content of r and extracts plain text from the PDF.
// Returns empty string and nil error if the PDF has no extractable text.
func ExtractPDFText(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", nil
	}
	pdfReader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plainReader, err := pdfReader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	out, err := io.ReadAll(plainReader)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
