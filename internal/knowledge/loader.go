package knowledge

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"
)

// Source is the extracted text of one input file.
type Source struct {
	Name string
	Path string
	Text string
}

var supportedExts = []string{".pdf", ".txt", ".md"}

// Supported reports whether path has an extension the loaders understand.
func Supported(path string) bool {
	return slices.Contains(supportedExts, strings.ToLower(filepath.Ext(path)))
}

// CollectFiles expands directories into the supported files they contain,
// recursively. Files named explicitly must be supported. Output is sorted
// and free of duplicates.
func CollectFiles(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			if !Supported(p) {
				return nil, fmt.Errorf("unsupported file type: %s", p)
			}
			add(p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && Supported(path) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Load extracts the text of a file, dispatching on its extension.
func Load(path string) (Source, error) {
	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = loadPDF(path)
	case ".txt", ".md":
		var b []byte
		if b, err = os.ReadFile(path); err == nil {
			text, err = decodeText(b)
		}
	default:
		return Source{}, fmt.Errorf("unsupported file type: %s", path)
	}
	if err != nil {
		return Source{}, fmt.Errorf("load %s: %w", path, err)
	}
	return Source{Name: filepath.Base(path), Path: path, Text: text}, nil
}

// decodeText returns b as a string when it is valid UTF-8 and otherwise
// decodes it as ISO 8859-1, which maps every byte to a character.
func decodeText(b []byte) (string, error) {
	if utf8.Valid(b) {
		return string(b), nil
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode latin-1: %w", err)
	}
	return string(out), nil
}

// loadPDF runs extractPDF and turns a panic inside the PDF reader into an
// error, so one malformed file cannot take down a parallel ingest.
func loadPDF(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	return extractPDF(path)
}

var extractPDF = readPDFText

// readPDFText concatenates the plain text of every page, pages separated by a
// blank line.
func readPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		txt, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if txt = strings.TrimSpace(txt); txt != "" {
			pages = append(pages, txt)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}
