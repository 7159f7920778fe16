package upload

import (
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxBytes is the upload size cap (100 MiB).
const DefaultMaxBytes int64 = 100 << 20

// AllowedExtensions are accepted regardless of the declared content type.
var AllowedExtensions = []string{"pdf", "docx", "doc", "txt"}

// AllowedContentTypes are accepted when the extension does not match.
var AllowedContentTypes = []string{
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/msword",
	"text/plain",
}

// ValidationError is a local admission failure. It never reaches the network.
type ValidationError struct {
	Reason  string // "size" or "type"
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validate applies the admission rules to src.
func Validate(src Source, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if src.Size() > maxBytes {
		return &ValidationError{
			Reason: "size",
			Message: fmt.Sprintf("%s is too large (%s); the maximum file size is %s",
				src.Name(), humanize.IBytes(uint64(src.Size())), humanize.IBytes(uint64(maxBytes))),
		}
	}
	if !allowedType(src) {
		return &ValidationError{
			Reason:  "type",
			Message: fmt.Sprintf("%s is not a supported file type (allowed: PDF, DOCX, DOC, TXT)", src.Name()),
		}
	}
	return nil
}

// allowedType checks the extension first; the content type is only consulted
// when the extension is missing or unknown. The first bytes are sniffed only
// for files with neither an extension nor a declared type.
func allowedType(src Source) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(src.Name()), "."))
	if slices.Contains(AllowedExtensions, ext) {
		return true
	}

	ct := src.ContentType()
	if ct == "" && ext == "" {
		ct = sniff(src)
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return slices.Contains(AllowedContentTypes, mt)
}

func sniff(src Source) string {
	rc, err := src.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()

	head := make([]byte, 3072)
	n, _ := io.ReadFull(rc, head)
	return mimetype.Detect(head[:n]).String()
}
