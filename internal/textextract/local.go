package textextract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contract-cli/internal/model"
)

// PlainText returns the file bytes as text.
type PlainText struct{}

// ExtractText implements Extractor.
func (PlainText) ExtractText(_ context.Context, file model.FileInput) (string, error) {
	if !utf8.Valid(file.Data) {
		return strings.ToValidUTF8(string(file.Data), ""), nil
	}
	return string(file.Data), nil
}

// DOCX reads paragraph text from word/document.xml inside the archive.
type DOCX struct{}

// ExtractText implements Extractor.
func (DOCX) ExtractText(_ context.Context, file model.FileInput) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(file.Data), int64(len(file.Data)))
	if err != nil {
		return "", eris.Wrapf(err, "textextract: open docx %s", file.Name)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", eris.Errorf("textextract: %s has no word/document.xml", file.Name)
	}

	rc, err := doc.Open()
	if err != nil {
		return "", eris.Wrap(err, "textextract: open document.xml")
	}
	defer rc.Close() //nolint:errcheck

	return docxParagraphs(rc)
}

func docxParagraphs(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		paras  []string
		cur    strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", eris.Wrap(err, "textextract: parse document.xml")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				cur.Reset()
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br":
				cur.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(cur.String()); s != "" {
					paras = append(paras, s)
				}
			}
		}
	}
	return strings.Join(paras, "\n"), nil
}

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText writes the PDF to a temp file and runs pdftotext -layout on it.
func (p *PdfToText) ExtractText(ctx context.Context, file model.FileInput) (string, error) {
	dir, err := os.MkdirTemp("", "contract-pdf-*")
	if err != nil {
		return "", eris.Wrap(err, "textextract: create temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	pdfPath := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(pdfPath, file.Data, 0o600); err != nil {
		return "", eris.Wrap(err, "textextract: write temp pdf")
	}

	cmd := exec.CommandContext(ctx, p.binPath, "-layout", pdfPath, "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "textextract: pdftotext failed for %s: %s", file.Name, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
