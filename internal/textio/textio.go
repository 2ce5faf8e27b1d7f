// Package textio opens the tab- and whitespace-separated text files used
// throughout the toolkit, decompressing gzip transparently.
package textio

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
)

const maxLine = 1024 * 1024

// ParseError reports a malformed line in a text input file.
type ParseError struct {
	File    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s at line %d: %s", e.File, e.Line, e.Message)
}

// OpenMaybeGzip opens a text file, transparently decompressing when the
// gzip magic bytes are present.
func OpenMaybeGzip(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 2)
	if _, err := io.ReadFull(file, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return file, nil // empty or tiny file, let the caller parse it
		}
		file.Close()
		return nil, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, err
	}

	if buf[0] == 0x1f && buf[1] == 0x8b {
		gz, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return &gzipReadCloser{gz: gz, file: file}, nil
	}
	return file, nil
}

type gzipReadCloser struct {
	gz   *gzip.Reader
	file *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	g.gz.Close()
	return g.file.Close()
}

// NewScanner wraps a reader in a line scanner with a buffer large enough
// for wide annotation and score tables.
func NewScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, maxLine), maxLine)
	return scanner
}
