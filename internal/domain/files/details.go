package files

import (
	"bytes"
	"io"
	"os"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

// MaxDetailsSize caps how much of a file Details returns as text.
const MaxDetailsSize = 10 * 1024 * 1024

// textTypes are treated as text even though mimetype does not root them at text/plain.
var textTypes = []string{"application/json", "application/x-ndjson", "application/javascript", "image/svg+xml"}

// Details returns the descriptor, sniffed mime type and, for text files, the
// contents decoded to UTF-8.
func (m *Model) Details(req protocol.FileDetailsRequest) (protocol.FileDetailsResponse, error) {
	abs, err := m.root.Resolve(req.Path)
	if err != nil {
		return protocol.FileDetailsResponse{}, err
	}
	info, err := m.Info(abs)
	if err != nil {
		return protocol.FileDetailsResponse{}, err
	}
	resp := protocol.FileDetailsResponse{File: info}
	if info.IsDirectory {
		return resp, nil
	}

	f, err := os.Open(abs)
	if err != nil {
		return protocol.FileDetailsResponse{}, protocol.BackendExecution(err, "open %q", req.Path)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxDetailsSize))
	if err != nil {
		return protocol.FileDetailsResponse{}, protocol.BackendExecution(err, "read %q", req.Path)
	}

	mt := mimetype.Detect(data)
	resp.MimeType = mt.String()
	if isText(mt) {
		text := decodeText(data)
		resp.Contents = &text
	}
	return resp, nil
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") || slices.ContainsFunc(textTypes, m.Is) {
			return true
		}
	}
	return false
}

// decodeText transcodes data to UTF-8 using the detected charset.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	cs := DetectCharset(data)
	r, err := charset.NewReader(bytes.NewReader(data), "text/plain; charset="+cs)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(out)
}

// DetectCharset returns the most likely charset name, defaulting to utf-8.
func DetectCharset(data []byte) string {
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}
