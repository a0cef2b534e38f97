package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DocumentType names the format of an ingested document and selects
// its decoder.
type DocumentType string

const (
	TypePDF  DocumentType = "pdf"
	TypeDocx DocumentType = "docx"
	TypeXlsx DocumentType = "xlsx"
	TypeCSV  DocumentType = "csv"
	TypeTxt  DocumentType = "txt"
	TypeMd   DocumentType = "md"
	TypeJSON DocumentType = "json"
	TypeHTML DocumentType = "html"
)

// ErrNoDecoder is returned when a document type has no registered
// decoder. Binary formats (pdf, docx, xlsx) ship without one; callers
// that need them register their own.
var ErrNoDecoder = errors.New("no decoder registered")

// Decoder turns a raw document buffer into plain text.
type Decoder func(data []byte) (string, error)

// DecoderRegistry maps document types to decoders. The zero value is
// unusable; construct with NewDecoderRegistry.
type DecoderRegistry struct {
	decoders map[DocumentType]Decoder
}

// NewDecoderRegistry returns a registry with the built-in text-based
// decoders (txt, md, json, csv, html) installed.
func NewDecoderRegistry() *DecoderRegistry {
	r := &DecoderRegistry{decoders: make(map[DocumentType]Decoder)}
	r.Register(TypeTxt, decodePlain)
	r.Register(TypeMd, decodePlain)
	r.Register(TypeJSON, decodeJSON)
	r.Register(TypeCSV, decodeCSV)
	r.Register(TypeHTML, decodeHTML)
	return r
}

// Register installs or replaces the decoder for a document type.
func (r *DecoderRegistry) Register(t DocumentType, d Decoder) {
	r.decoders[t] = d
}

// Decode runs the registered decoder for the given type.
func (r *DecoderRegistry) Decode(t DocumentType, data []byte) (string, error) {
	d, ok := r.decoders[t]
	if !ok {
		return "", fmt.Errorf("%w for document type %q", ErrNoDecoder, t)
	}
	text, err := d(data)
	if err != nil {
		return "", fmt.Errorf("decoding %s document: %w", t, err)
	}
	return text, nil
}

// TypeFromFilename infers a document type from the file extension.
// Unknown extensions map to plain text.
func TypeFromFilename(name string) DocumentType {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return TypePDF
	case ".docx":
		return TypeDocx
	case ".xlsx":
		return TypeXlsx
	case ".csv":
		return TypeCSV
	case ".md", ".markdown":
		return TypeMd
	case ".json":
		return TypeJSON
	case ".html", ".htm":
		return TypeHTML
	default:
		return TypeTxt
	}
}

func decodePlain(data []byte) (string, error) {
	return string(data), nil
}

func decodeJSON(data []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	return buf.String(), nil
}

func decodeCSV(data []byte) (string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	var rows []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading CSV: %w", err)
		}
		rows = append(rows, strings.Join(record, ", "))
	}
	return strings.Join(rows, "\n"), nil
}

func decodeHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	return strings.TrimSpace(collapseSpace(doc.Text())), nil
}

// collapseSpace folds runs of whitespace into single spaces, keeping
// newlines so paragraph structure survives for the chunker.
func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var spacePending, newlinePending bool
	for _, r := range s {
		switch r {
		case '\n':
			newlinePending = true
			spacePending = false
		case ' ', '\t', '\r':
			if !newlinePending {
				spacePending = true
			}
		default:
			if newlinePending {
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
				newlinePending = false
			} else if spacePending {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
			}
			spacePending = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
