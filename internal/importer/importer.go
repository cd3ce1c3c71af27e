// Package importer turns files into candidate notes.
package importer

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kalambet/pouch/internal/storage"
)

// MaxFileSize caps how much of a file is read.
const MaxFileSize = 10 << 20 // 10MB

var (
	// ErrTooLarge is returned for inputs over MaxFileSize.
	ErrTooLarge = errors.New("file too large")
	// ErrEmpty is returned when no text could be extracted.
	ErrEmpty = errors.New("no text content")
)

// Kind is the detected file format.
type Kind string

const (
	KindText     Kind = "text"
	KindMarkdown Kind = "markdown"
	KindPDF      Kind = "pdf"
	KindHTML     Kind = "html"
)

// KindFromName picks a Kind from the file extension. Anything unrecognised is
// read as text.
func KindFromName(name string) Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF
	case ".md", ".markdown":
		return KindMarkdown
	case ".html", ".htm":
		return KindHTML
	}
	return KindText
}

// FromFile reads path and returns an unsaved note built from it.
func FromFile(path string) (storage.Note, error) {
	f, err := os.Open(path)
	if err != nil {
		return storage.Note{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return storage.Note{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return FromBytes(filepath.Base(path), data)
}

// FromBytes builds a note from the contents of a file called name.
func FromBytes(name string, data []byte) (storage.Note, error) {
	if len(data) > MaxFileSize {
		return storage.Note{}, ErrTooLarge
	}

	fallbackTitle := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))

	var n storage.Note
	switch KindFromName(name) {
	case KindPDF:
		text, err := pdfText(data)
		if err != nil {
			return storage.Note{}, fmt.Errorf("extracting text from %s: %w", name, err)
		}
		n = storage.Note{Title: fallbackTitle, Body: text}
	case KindHTML:
		title, body, err := htmlText(data)
		if err != nil {
			return storage.Note{}, fmt.Errorf("parsing %s: %w", name, err)
		}
		if title == "" {
			title = fallbackTitle
		}
		n = storage.Note{Title: title, Body: body}
	case KindMarkdown:
		title, body := splitMarkdownTitle(string(data))
		if title == "" {
			title = fallbackTitle
		}
		n = storage.Note{Title: title, Body: body}
	default:
		n = storage.Note{Title: fallbackTitle, Body: strings.TrimSpace(string(data))}
	}

	if n.Body == "" && n.Title == "" {
		return storage.Note{}, ErrEmpty
	}
	return n, nil
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}

// splitMarkdownTitle uses the first level-one heading as the title and
// returns the remaining text as the body.
func splitMarkdownTitle(src string) (title, body string) {
	var rest []string
	sc := bufio.NewScanner(strings.NewReader(src))
	sc.Buffer(make([]byte, 0, 64*1024), MaxFileSize)
	for sc.Scan() {
		line := sc.Text()
		if title == "" && strings.HasPrefix(line, "# ") {
			title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			continue
		}
		rest = append(rest, line)
	}
	return title, strings.TrimSpace(strings.Join(rest, "\n"))
}

// htmlText returns the document title and its visible text, one block
// element per line.
func htmlText(data []byte) (title, body string, err error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", "", err
	}

	var (
		lines []string
		line  strings.Builder
	)
	flush := func() {
		if s := strings.Join(strings.Fields(line.String()), " "); s != "" {
			lines = append(lines, s)
		}
		line.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			case atom.Title:
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		}
		if n.Type == html.TextNode {
			line.WriteString(n.Data)
			line.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.DataAtom) {
			flush()
		}
	}
	walk(doc)
	flush()

	return title, strings.Join(lines, "\n"), nil
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Li, atom.Tr, atom.Section, atom.Article,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Pre, atom.Blockquote:
		return true
	}
	return false
}
