package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// SupportedExtension reports whether files with the given name may enter
// the ingestion pipeline.
func SupportedExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".txt", ".md", ".markdown", ".docx":
		return true
	}
	return false
}

// Extract determines the real file type from its leading bytes before
// trusting the claimed extension, then pulls plain text out of it.
// Supported: PDF, DOCX, TXT/MD. Output whitespace is normalized but line
// structure survives so downstream chunking can cut on paragraph breaks.
func Extract(originalName string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if len(data) == 0 {
		return "", fmt.Errorf("empty file: name=%s", originalName)
	}

	if isPDF(data) {
		return extractPDF(data)
	}
	if isZip(data) {
		return extractDOCX(data)
	}
	if ext == ".pdf" {
		return "", fmt.Errorf("file claims pdf but missing %%PDF header: name=%s", originalName)
	}
	if ext == ".docx" {
		return "", fmt.Errorf("file claims docx but is not a valid zip container: name=%s", originalName)
	}
	if isProbablyText(data) || ext == ".txt" || ext == ".md" || ext == ".markdown" {
		return NormalizeWhitespace(string(data)), nil
	}
	return "", fmt.Errorf("unsupported file type: name=%s ext=%s", originalName, ext)
}

func isPDF(b []byte) bool {
	return len(b) >= 5 && string(b[:5]) == "%PDF-"
}

func isZip(b []byte) bool {
	return len(b) >= 4 && b[0] == 'P' && b[1] == 'K' && b[2] == 3 && b[3] == 4
}

func isProbablyText(b []byte) bool {
	sample := b
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	good := 0
	for _, c := range sample {
		if c == 0x00 {
			return false
		}
		if c == '\n' || c == '\r' || c == '\t' || (c >= 0x20 && c <= 0x7E) || c >= 0x80 {
			good++
		}
	}
	return float64(good)/float64(len(sample)) > 0.9
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf plaintext: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("pdf read: %w", err)
	}
	out := NormalizeWhitespace(string(b))
	if out == "" {
		return "", fmt.Errorf("no text extracted from pdf")
	}
	return out, nil
}

// extractDOCX gathers the <w:t> runs from word/document.xml inside the
// OpenXML container.
func extractDOCX(zipBytes []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return "", fmt.Errorf("docx container: %w", err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("zip does not look like docx: word/document.xml missing")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("docx document.xml: %w", err)
	}
	raw, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return "", fmt.Errorf("docx document.xml: %w", err)
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))
	var out strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "t":
			var v string
			_ = dec.DecodeElement(&v, &se)
			out.WriteString(v)
		case "p":
			// Paragraph starts become blank lines in the output.
			out.WriteString("\n\n")
		case "br", "tab":
			out.WriteString("\n")
		}
	}
	s := NormalizeWhitespace(out.String())
	if s == "" {
		return "", fmt.Errorf("no text extracted from docx")
	}
	return s, nil
}

// NormalizeWhitespace collapses runs of spaces and tabs inside each line,
// trims the line edges, and limits consecutive blank lines to one, keeping
// paragraph breaks intact.
func NormalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, " ", " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}

	var out []string
	blank := true
	for _, line := range lines {
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
