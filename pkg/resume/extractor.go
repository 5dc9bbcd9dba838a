// Package resume turns a stored resume reference into plain text for question
// generation.
package resume

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/harunnryd/intervyu/pkg/errorsx"
)

// DefaultMaxChars bounds the text handed to prompt templates.
const DefaultMaxChars = 20000

var ErrNoResume = errors.New("application has no resume")

// Extractor resolves a resume reference and returns its text.
type Extractor interface {
	Extract(ctx context.Context, ref string) (string, error)
}

// FileExtractor reads resumes stored below BaseDir. References are the
// upload paths recorded on the application, e.g. "/uploads/resumes/cv.pdf".
type FileExtractor struct {
	BaseDir  string
	MaxChars int
}

func NewFileExtractor(baseDir string) *FileExtractor {
	return &FileExtractor{BaseDir: baseDir, MaxChars: DefaultMaxChars}
}

func (e *FileExtractor) Extract(ctx context.Context, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", errorsx.Wrap(ErrNoResume, errorsx.ReasonResumeExtract)
	}
	path, err := e.resolve(ref)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonResumeExtract)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var text string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = readPDF(path)
	case ".txt", ".md":
		var b []byte
		b, err = os.ReadFile(path)
		text = string(b)
	default:
		err = fmt.Errorf("unsupported resume type %q", filepath.Ext(path))
	}
	if err != nil {
		return "", errorsx.Wrap(fmt.Errorf("extract resume %s: %w", ref, err), errorsx.ReasonResumeExtract)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errorsx.Newf(errorsx.ReasonResumeExtract, "extract resume %s: no text content", ref)
	}
	return e.limit(text), nil
}

// resolve maps ref onto a path inside BaseDir, rejecting escapes.
func (e *FileExtractor) resolve(ref string) (string, error) {
	base, err := filepath.Abs(e.baseDir())
	if err != nil {
		return "", err
	}
	cleaned := filepath.Clean("/" + filepath.ToSlash(strings.TrimSpace(ref)))
	path := filepath.Join(base, filepath.FromSlash(cleaned))
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("resume reference %q escapes base directory", ref)
	}
	return path, nil
}

func (e *FileExtractor) baseDir() string {
	if e.BaseDir == "" {
		return "."
	}
	return e.BaseDir
}

func (e *FileExtractor) limit(text string) string {
	n := e.MaxChars
	if n <= 0 {
		n = DefaultMaxChars
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}
