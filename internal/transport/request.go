package transport

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path/filepath"
	"strings"

	"github.com/example/audio-check/internal/failure"
)

var audioContentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".webm": "audio/webm",
}

// AudioContentType returns the MIME type for a supported audio filename.
func AudioContentType(filename string) (string, bool) {
	ct, ok := audioContentTypes[strings.ToLower(filepath.Ext(filename))]
	return ct, ok
}

// UploadRequest is a single audio payload and its declared filename.
// It is immutable; the payload only ever lives in memory.
type UploadRequest struct {
	filename string
	data     []byte
}

// NewUploadRequest copies data so later writes by the caller cannot change
// what gets submitted.
func NewUploadRequest(filename string, data []byte) (*UploadRequest, error) {
	buf := make([]byte, len(data))
	copy(buf, data)
	return newOwnedRequest(filename, buf)
}

// ReadUploadRequest drains r into memory and builds a request from it.
func ReadUploadRequest(filename string, r io.Reader) (*UploadRequest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, failure.Wrap(failure.Validation, "Unable to read the selected file.", err)
	}
	return newOwnedRequest(filename, data)
}

func newOwnedRequest(filename string, data []byte) (*UploadRequest, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, failure.New(failure.Validation, "Please select a file.")
	}
	if len(data) == 0 {
		return nil, failure.New(failure.Validation, "The selected file is empty.")
	}
	return &UploadRequest{filename: filename, data: data}, nil
}

func (r *UploadRequest) Filename() string { return r.filename }

func (r *UploadRequest) Size() int { return len(r.data) }

func (r *UploadRequest) ContentType() string {
	if ct, ok := AudioContentType(r.filename); ok {
		return ct
	}
	return "application/octet-stream"
}

// Digest is the hex SHA-256 of the payload, used to spot repeat submissions
// without keeping the audio.
func (r *UploadRequest) Digest() string {
	sum := sha256.Sum256(r.data)
	return hex.EncodeToString(sum[:])
}

func (r *UploadRequest) body() io.Reader { return bytes.NewReader(r.data) }
