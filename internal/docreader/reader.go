// Package docreader extracts plain text from office and PDF documents.
package docreader

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedDocument indicates the document extension has no reader.
var ErrUnsupportedDocument = errors.New("unsupported document format")

// DocumentExtensions are the formats handled by Read besides plain text.
var DocumentExtensions = []string{".docx", ".pdf", ".pptx"}

// Read returns the text content of the document at path.
func Read(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return readPDF(path)
	case ".docx":
		return readDOCX(path)
	case ".pptx":
		return readPPTX(path)
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return strings.ToValidUTF8(string(data), ""), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDocument, filepath.Ext(path))
	}
}

func readPDF(path string) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	text, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	buf := bytes.Buffer{}
	if _, err := io.Copy(&buf, text); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

func readDOCX(path string) (string, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer archive.Close()

	for _, entry := range archive.File {
		if entry.Name == "word/document.xml" {
			return paragraphsFromEntry(entry, "p")
		}
	}
	return "", fmt.Errorf("docx is missing word/document.xml")
}

func readPPTX(path string) (string, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open pptx: %w", err)
	}
	defer archive.Close()

	type slide struct {
		number int
		entry  *zip.File
	}
	var slides []slide
	for _, entry := range archive.File {
		name := entry.Name
		if !strings.HasPrefix(name, "ppt/slides/slide") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		number, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{number: number, entry: entry})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].number < slides[j].number })

	builder := strings.Builder{}
	for _, s := range slides {
		text, err := paragraphsFromEntry(s.entry, "p")
		if err != nil {
			return "", fmt.Errorf("read slide %d: %w", s.number, err)
		}
		if text == "" {
			continue
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

// paragraphsFromEntry collects the <t> runs of an OOXML part, one line per paragraph.
func paragraphsFromEntry(entry *zip.File, paragraph string) (string, error) {
	rc, err := entry.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var (
		lines   []string
		current strings.Builder
		inText  bool
	)
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch el := token.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case paragraph:
				lines = append(lines, current.String())
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(el)
			}
		}
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n"), nil
}
