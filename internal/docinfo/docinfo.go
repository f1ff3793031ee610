// Package docinfo inspects a selected document locally so the form can
// show a short summary before it is sent for analysis.
package docinfo

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fumiama/go-docx"
	pdflib "github.com/ledongthuc/pdf"
)

// Kind is the detected document type.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindDOCX Kind = "docx"
)

// ErrUnsupported is returned for extensions that are not inspected.
var ErrUnsupported = errors.New("unsupported document type")

// Info is what local inspection could learn about a document.
type Info struct {
	Kind     Kind
	Pages    int
	Headings int
	Title    string
}

// Inspect reads a document held in memory. Failure here never blocks a
// submission; the analysis service does the real validation.
func Inspect(filename string, data []byte) (Info, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return inspectPDF(data)
	case ".docx":
		return inspectDOCX(data)
	}
	return Info{}, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(filename))
}

// Summary is the line shown next to the file input.
func (i Info) Summary(filename string) string {
	switch {
	case i.Pages == 1:
		return filename + " · 1 page"
	case i.Pages > 1:
		return fmt.Sprintf("%s · %d pages", filename, i.Pages)
	case i.Headings == 1:
		return filename + " · 1 heading"
	case i.Headings > 1:
		return fmt.Sprintf("%s · %d headings", filename, i.Headings)
	}
	return filename
}

func inspectPDF(data []byte) (info Info, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			info, err = Info{}, fmt.Errorf("read pdf: %v", r)
		}
	}()

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Info{}, fmt.Errorf("read pdf: %w", err)
	}
	info = Info{Kind: KindPDF, Pages: reader.NumPage()}
	if title := reader.Trailer().Key("Info").Key("Title"); !title.IsNull() {
		info.Title = strings.TrimSpace(title.Text())
	}
	return info, nil
}

func inspectDOCX(data []byte) (Info, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Info{}, fmt.Errorf("parse docx: %w", err)
	}

	info := Info{Kind: KindDOCX}
	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		level := headingLevel(para)
		if level == 0 {
			continue
		}
		text := paragraphText(para)
		if text == "" {
			continue
		}
		info.Headings++
		if info.Title == "" && level == 1 {
			info.Title = text
		}
	}
	return info, nil
}

func headingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	if style == "title" {
		return 1
	}
	if rest, ok := strings.CutPrefix(style, "heading"); ok && len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
		return int(rest[0] - '0')
	}
	return 0
}

func paragraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}
