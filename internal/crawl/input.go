package crawl

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/samber/lo"
)

// MaxBulkInputBytes bounds how much of a bulk input file is read.
const MaxBulkInputBytes = 1 << 20

// SplitURLs breaks raw bulk input on newlines, commas and semicolons and
// drops empty entries. The tokens are not validated.
func SplitURLs(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case '\n', '\r', ',', ';':
			return true
		}
		return false
	})
	return lo.Compact(lo.Map(fields, func(s string, _ int) string {
		return strings.Trim(strings.TrimSpace(s), `"`)
	}))
}

// ReadBulkInput loads a text or CSV file into the raw bulk buffer. Parsing is
// left to SubmitBulk.
func ReadBulkInput(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxBulkInputBytes+1))
	if err != nil {
		return "", fmt.Errorf("read bulk input: %w", err)
	}
	if len(data) > MaxBulkInputBytes {
		return "", fmt.Errorf("bulk input larger than %d bytes", MaxBulkInputBytes)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	return string(data), nil
}

func truncateList(items []string, n int) string {
	if len(items) <= n {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(items[:n], ", "), len(items)-n)
}
