package upload

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
)

// Source is a local payload offered for upload. Open is called once per
// attempt, so an automatic retry re-reads the payload from the start.
type Source interface {
	Name() string
	Size() int64
	// ContentType is the declared MIME type; empty when unknown.
	ContentType() string
	Open() (io.ReadCloser, error)
}

type fileSource struct {
	path        string
	size        int64
	contentType string
}

// FileSource returns a Source for a file on disk. The declared content type
// is derived from the extension, the same hint a browser would give.
func FileSource(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &fileSource{
		path:        path,
		size:        info.Size(),
		contentType: mime.TypeByExtension(filepath.Ext(path)),
	}, nil
}

func (f *fileSource) Name() string                 { return filepath.Base(f.path) }
func (f *fileSource) Size() int64                  { return f.size }
func (f *fileSource) ContentType() string          { return f.contentType }
func (f *fileSource) Open() (io.ReadCloser, error) { return os.Open(f.path) }

type bytesSource struct {
	name        string
	contentType string
	data        []byte
}

// BytesSource returns a Source backed by an in-memory buffer.
func BytesSource(name, contentType string, data []byte) Source {
	return &bytesSource{name: name, contentType: contentType, data: data}
}

func (b *bytesSource) Name() string        { return b.name }
func (b *bytesSource) Size() int64         { return int64(len(b.data)) }
func (b *bytesSource) ContentType() string { return b.contentType }
func (b *bytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}
