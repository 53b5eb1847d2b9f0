package selector

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type Extension string

const (
	ExtensionCSV  Extension = "csv"
	ExtensionXLSX Extension = "xlsx"
	ExtensionXLS  Extension = "xls"

	ReasonUnsupportedExtension = "unsupported extension"
)

// Accepted lists the extensions matched client-side. The server stays authoritative.
var Accepted = []Extension{ExtensionCSV, ExtensionXLSX, ExtensionXLS}

// Source gives access to the bytes of a candidate file.
type Source interface {
	Open() (io.ReadCloser, error)
}

// Candidate is a file the user picked but that was not validated yet.
type Candidate struct {
	Name   string
	Size   int64
	Source Source
}

// SelectedFile is a validated candidate.
type SelectedFile struct {
	Name      string
	SizeBytes int64
	Extension Extension

	source Source
}

// Open returns the content of the selected file.
func (f SelectedFile) Open() (io.ReadCloser, error) {
	if f.source == nil {
		return nil, fmt.Errorf("file %q has no content source", f.Name)
	}
	return f.source.Open()
}

// SizeKB is the size shown next to the file name.
func (f SelectedFile) SizeKB() string {
	return fmt.Sprintf("%.2f KB", float64(f.SizeBytes)/1024)
}

type InvalidFileError struct {
	Name   string
	Reason string
}

func (e *InvalidFileError) Error() string {
	return fmt.Sprintf("invalid file %q: %s, expected one of .csv, .xlsx, .xls", e.Name, e.Reason)
}

// Select validates the extension of the candidate: the text after the last dot,
// lower-cased, must be one of the accepted extensions.
func Select(c Candidate) (SelectedFile, error) {
	ext, ok := extensionOf(c.Name)
	if !ok {
		return SelectedFile{}, &InvalidFileError{Name: c.Name, Reason: ReasonUnsupportedExtension}
	}
	return SelectedFile{
		Name:      c.Name,
		SizeBytes: c.Size,
		Extension: ext,
		source:    c.Source,
	}, nil
}

func extensionOf(name string) (Extension, bool) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return "", false
	}
	ext := Extension(strings.ToLower(name[idx+1:]))
	for _, accepted := range Accepted {
		if ext == accepted {
			return ext, true
		}
	}
	return "", false
}

type fileSource string

func (p fileSource) Open() (io.ReadCloser, error) {
	return os.Open(string(p))
}

// FromPath builds a candidate from a file on the local disk.
func FromPath(path string) (Candidate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Candidate{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if info.IsDir() {
		return Candidate{}, fmt.Errorf("%s is a directory", path)
	}
	return Candidate{
		Name:   filepath.Base(path),
		Size:   info.Size(),
		Source: fileSource(path),
	}, nil
}

type bytesSource []byte

func (b bytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// FromBytes builds an in-memory candidate.
func FromBytes(name string, data []byte) Candidate {
	return Candidate{
		Name:   name,
		Size:   int64(len(data)),
		Source: bytesSource(data),
	}
}
