package crawl_test

import (
	"strings"
	"testing"

	"github.com/raphaelgruber/docdash/internal/crawl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitURLs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: []string{}},
		{name: "newlines", raw: "https://a.com\nhttps://b.com\r\n", want: []string{"https://a.com", "https://b.com"}},
		{name: "mixed separators", raw: "a, b;c\n d", want: []string{"a", "b", "c", "d"}},
		{name: "blank entries dropped", raw: " ,, ;\n\n", want: []string{}},
		{name: "quoted csv cells", raw: `"https://a.com","https://b.com"`, want: []string{"https://a.com", "https://b.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := crawl.SplitURLs(tt.raw)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadBulkInput(t *testing.T) {
	raw, err := crawl.ReadBulkInput(strings.NewReader("\xef\xbb\xbfhttps://a.com\nhttps://b.com\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://a.com\nhttps://b.com\n", raw)

	_, err = crawl.ReadBulkInput(strings.NewReader(strings.Repeat("x", crawl.MaxBulkInputBytes+1)))
	assert.Error(t, err)
}
