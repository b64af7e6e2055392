// Package attachments turns files on disk into request attachments and
// enforces the supported image and code formats.
package attachments

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"uigen/internal/runtime"
)

var (
	ImageTypes     = []string{"image/png", "image/jpeg", "image/svg+xml"}
	CodeExtensions = []string{".tsx", ".ts", ".json", ".css"}
)

// MaxCodeBytes caps how much of a code file is inlined into the attachment.
const MaxCodeBytes = 256 << 10

// UnsupportedError lists the files that were rejected by Load.
type UnsupportedError struct {
	Names []string
}

func (e *UnsupportedError) Error() string {
	return "Unsupported files: " + strings.Join(e.Names, ", ")
}

// Classify decides the attachment kind from a sniffed MIME type first and
// the file extension second.
func Classify(name, mime string) (runtime.AttachmentKind, bool) {
	m := mimetype.Lookup(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	for _, allowed := range ImageTypes {
		if m != nil && m.Is(allowed) {
			return runtime.AttachmentImage, true
		}
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range CodeExtensions {
		if ext == allowed {
			return runtime.AttachmentCode, true
		}
	}
	return "", false
}

// FromFile sniffs path and builds an attachment. Code files carry their text,
// images carry a file:// URL.
func FromFile(path string) (runtime.Attachment, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return runtime.Attachment{}, fmt.Errorf("detect %s: %w", path, err)
	}
	name := filepath.Base(path)
	kind, ok := Classify(name, m.String())
	if !ok {
		return runtime.Attachment{}, &UnsupportedError{Names: []string{name}}
	}
	att := runtime.Attachment{
		ID:       uuid.NewString(),
		Name:     name,
		Kind:     kind,
		MimeType: m.String(),
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return runtime.Attachment{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	att.URL = "file://" + filepath.ToSlash(abs)
	if kind == runtime.AttachmentCode {
		b, err := readLimited(path, MaxCodeBytes)
		if err != nil {
			return runtime.Attachment{}, err
		}
		att.Content = string(b)
	}
	return att, nil
}

func readLimited(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}

// Load converts every path it can. Rejected files are reported together in
// an *UnsupportedError while the accepted ones are still returned.
func Load(paths []string) ([]runtime.Attachment, error) {
	out := make([]runtime.Attachment, 0, len(paths))
	var rejected []string
	for _, p := range paths {
		att, err := FromFile(p)
		if err != nil {
			var unsupported *UnsupportedError
			if errors.As(err, &unsupported) {
				rejected = append(rejected, unsupported.Names...)
				continue
			}
			return nil, err
		}
		out = append(out, att)
	}
	if len(rejected) > 0 {
		return out, &UnsupportedError{Names: rejected}
	}
	return out, nil
}
