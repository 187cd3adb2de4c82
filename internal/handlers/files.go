package handlers

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"sticker-convert/internal/convert"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/probe"
	"sticker-convert/internal/verify"
)

// probeStatus maps probe failures to client errors.
func probeStatus(err error) int {
	if errors.Is(err, probe.ErrUnsupported) || errors.Is(err, probe.ErrNotFound) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// Probe returns the media properties of each uploaded file.
func (h *Handlers) Probe(w http.ResponseWriter, r *http.Request) {
	dir, files, err := h.receiveFiles(w, r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer os.RemoveAll(dir)

	infos := make([]*probe.Info, 0, len(files))
	for _, path := range files {
		info, err := h.conv.Prober().Probe(r.Context(), path)
		if err != nil {
			writeJSONError(w, fmt.Sprintf("%s: %v", filepath.Base(path), err), probeStatus(err))
			return
		}
		info.Path = filepath.Base(path)
		infos = append(infos, info)
	}
	writeJSONStatus(w, infos, http.StatusOK)
}

// Verify checks each uploaded file against the preset named by the
// "preset" parameter.
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	spec, err := presetParam(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	dir, files, err := h.receiveFiles(w, r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer os.RemoveAll(dir)

	verifier := verify.New(h.conv.Prober())
	reports := make([]*verify.Report, 0, len(files))
	for _, path := range files {
		report, err := verifier.Check(r.Context(), path, spec)
		if err != nil {
			writeJSONError(w, fmt.Sprintf("%s: %v", filepath.Base(path), err), probeStatus(err))
			return
		}
		report.Path = filepath.Base(path)
		report.Info.Path = report.Path
		reports = append(reports, report)
	}
	writeJSONStatus(w, reports, http.StatusOK)
}

// Convert converts the uploaded files to the preset named by "preset".
// A single file is returned as is; several files are returned as a zip
// holding the converted stickers and results.json. Conversion options are
// read from the fake_video, force_recompress, no_compress and format
// parameters.
func (h *Handlers) Convert(w http.ResponseWriter, r *http.Request) {
	spec, err := presetParam(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.gate.Wait(r.Context()); err != nil {
		writeJSONError(w, "server is low on memory, try again later", http.StatusServiceUnavailable)
		return
	}
	dir, files, err := h.receiveFiles(w, r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer os.RemoveAll(dir)

	opts := convert.Options{
		FakeVideo:       boolParam(r, "fake_video"),
		ForceRecompress: boolParam(r, "force_recompress"),
		NoCompress:      boolParam(r, "no_compress"),
		Format:          r.URL.Query().Get("format"),
	}
	results, err := h.conv.ConvertAll(r.Context(), files, filepath.Join(dir, "out"), spec, opts, h.workers)
	if err != nil {
		logging.Warn("Conversion request aborted: %v", err)
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	if len(results) == 1 {
		res := results[0]
		if res.Error != "" {
			writeJSONStatus(w, publicResult(res), http.StatusUnprocessableEntity)
			return
		}
		serveResult(w, r, res)
		return
	}
	writeZip(w, results)
}

// publicResult strips the server side directories from a result.
func publicResult(res *convert.Result) *convert.Result {
	out := *res
	out.Input = filepath.Base(res.Input)
	if res.Output != "" {
		out.Output = filepath.Base(res.Output)
	}
	return &out
}

func serveResult(w http.ResponseWriter, r *http.Request, res *convert.Result) {
	f, err := os.Open(res.Output)
	if err != nil {
		writeJSONError(w, "converted file missing", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		writeJSONError(w, "converted file missing", http.StatusInternalServerError)
		return
	}

	name := filepath.Base(res.Output)
	contentType := mime.TypeByExtension(res.Format)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("X-Sticker-Step", strconv.Itoa(res.Step))
	w.Header().Set("X-Sticker-Attempts", strconv.Itoa(res.Attempts))
	w.Header().Set("X-Sticker-Animated", strconv.FormatBool(res.Animated))
	http.ServeContent(w, r, name, stat.ModTime(), f)
}

func writeZip(w http.ResponseWriter, results []*convert.Result) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="stickers.zip"`)
	w.WriteHeader(http.StatusOK)

	zw := zip.NewWriter(w)
	public := make([]*convert.Result, 0, len(results))
	for _, res := range results {
		public = append(public, publicResult(res))
		if res.Error != "" || res.Output == "" {
			continue
		}
		if err := addZipFile(zw, res.Output); err != nil {
			logging.Error("Failed to add %s to archive: %v", res.Output, err)
			return
		}
	}

	fw, err := zw.Create("results.json")
	if err == nil {
		err = json.NewEncoder(fw).Encode(public)
	}
	if err != nil {
		logging.Error("Failed to write results.json: %v", err)
	}
	if err := zw.Close(); err != nil {
		logging.Error("Failed to finish archive: %v", err)
	}
}

func addZipFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// Sticker formats are already compressed.
	dst, err := zw.CreateHeader(&zip.FileHeader{Name: filepath.Base(path), Method: zip.Store})
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, f)
	return err
}
