package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sticker-convert/internal/logging"
	"sticker-convert/internal/platform"
)

var errNoFile = errors.New("no file uploaded")

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, map[string]string{"error": message})
}

// writeJSONStatus writes v as a JSON response with the given status code.
func writeJSONStatus(w http.ResponseWriter, v interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, v)
}

// presetParam resolves the preset named by the "preset" query parameter.
func presetParam(r *http.Request) (*platform.Spec, error) {
	name := r.URL.Query().Get("preset")
	if name == "" {
		return nil, errors.New("preset parameter required")
	}
	return platform.Get(name)
}

func boolParam(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

// receiveFiles stores every "file" part of a multipart request in a new
// temporary directory. The caller removes dir.
func (h *Handlers) receiveFiles(w http.ResponseWriter, r *http.Request) (dir string, files []string, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", nil, fmt.Errorf("invalid upload: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	parts := r.MultipartForm.File["file"]
	if len(parts) == 0 {
		return "", nil, errNoFile
	}

	dir, err = os.MkdirTemp(h.workDir, "upload-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	taken := make(map[string]bool, len(parts))
	for i, part := range parts {
		path := filepath.Join(dir, dedupeName(taken, uploadName(part.Filename, i)))
		if err := saveUpload(part, path); err != nil {
			os.RemoveAll(dir)
			return "", nil, err
		}
		files = append(files, path)
	}
	return dir, files, nil
}

// uploadName keeps the base name of a client supplied file name.
func uploadName(name string, i int) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" || strings.HasPrefix(name, ".") {
		return fmt.Sprintf("upload-%03d", i)
	}
	return name
}

// dedupeName suffixes name (a.png, a-1.png, a-2.png, ...) until it is not
// in taken, then records it.
func dedupeName(taken map[string]bool, name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 1; taken[strings.ToLower(candidate)]; n++ {
		candidate = fmt.Sprintf("%s-%d%s", stem, n, ext)
	}
	taken[strings.ToLower(candidate)] = true
	return candidate
}

func saveUpload(part *multipart.FileHeader, path string) error {
	src, err := part.Open()
	if err != nil {
		return fmt.Errorf("failed to read upload %s: %w", part.Filename, err)
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to store upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to store upload: %w", err)
	}
	return dst.Close()
}
