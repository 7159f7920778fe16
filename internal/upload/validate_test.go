package upload_test

import (
	"testing"

	"github.com/raphaelgruber/docdash/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		src     upload.Source
		reason  string
		message string
	}{
		{name: "pdf", src: upload.BytesSource("report.pdf", "application/pdf", []byte("%PDF"))},
		{name: "uppercase extension", src: upload.BytesSource("REPORT.DOCX", "", []byte("x"))},
		{name: "txt without declared type", src: upload.BytesSource("notes.txt", "", []byte("hello"))},
		{name: "legacy doc", src: upload.BytesSource("old.doc", "application/octet-stream", []byte("x"))},
		{
			name: "unknown extension with allowed content type",
			src:  upload.BytesSource("scan.bin", "application/pdf", []byte("x")),
		},
		{
			name: "content type with parameters",
			src:  upload.BytesSource("readme", "text/plain; charset=utf-8", []byte("x")),
		},
		{
			name: "no extension no type sniffed as pdf",
			src:  upload.BytesSource("download", "", []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj\n")),
		},
		{
			name:    "executable",
			src:     upload.BytesSource("setup.exe", "application/x-msdownload", []byte("MZ")),
			reason:  "type",
			message: "setup.exe is not a supported file type",
		},
		{
			name:    "unknown extension is not sniffed",
			src:     upload.BytesSource("run.exe", "", []byte("plain text content")),
			reason:  "type",
			message: "not a supported file type",
		},
		{
			name:    "image",
			src:     upload.BytesSource("photo.png", "image/png", []byte("x")),
			reason:  "type",
			message: "not a supported file type",
		},
		{
			name:    "too large",
			src:     zeroSource{name: "huge.pdf", size: upload.DefaultMaxBytes + 1},
			reason:  "size",
			message: "huge.pdf is too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := upload.Validate(tt.src, 0)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			var verr *upload.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.reason, verr.Reason)
			assert.Contains(t, verr.Message, tt.message)
		})
	}
}

func TestValidateExactLimit(t *testing.T) {
	src := zeroSource{name: "edge.pdf", size: upload.DefaultMaxBytes}
	assert.NoError(t, upload.Validate(src, 0))

	err := upload.Validate(zeroSource{name: "edge.pdf", size: 2048}, 1024)
	var verr *upload.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "size", verr.Reason)
	assert.Contains(t, verr.Message, "1.0 KiB")
}
