package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/username/taxfolio/importer/src/logger"
	"github.com/username/taxfolio/importer/src/models"
	"github.com/username/taxfolio/importer/src/security/validation"
	"github.com/username/taxfolio/importer/src/services"
	"github.com/username/taxfolio/importer/src/utils"
)

const maxBatchFiles = 20

type ImportHandler struct {
	importService *services.ImportService
	maxUpload     int64
}

func NewImportHandler(service *services.ImportService, maxUploadBytes int64) *ImportHandler {
	return &ImportHandler{
		importService: service,
		maxUpload:     maxUploadBytes,
	}
}

// HandlePreview parses an upload and returns the result without storing it.
func (h *ImportHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	upload, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	res, err := h.importService.Preview(r.Context(), upload.Filename, upload.Data, upload.Hint)
	if err != nil {
		h.sendServiceError(w, r, upload.Filename, err, nil)
		return
	}
	utils.SendJSON(w, res, http.StatusOK)
}

// HandleImport parses and stores an upload.
func (h *ImportHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	upload, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	out, err := h.importService.Import(r.Context(), upload.Filename, upload.Data, upload.Hint)
	if err != nil {
		h.sendServiceError(w, r, upload.Filename, err, out)
		return
	}
	utils.SendJSON(w, out, http.StatusOK)
}

// HandleImportBatch imports every "file" part of the form. Per-file
// failures are reported in the entries, not as the response status.
func (h *ImportHandler) HandleImportBatch(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload*maxBatchFiles)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		log.Warn("Failed to parse multipart form or request too large", "error", err)
		utils.SendJSONError(w, "Failed to parse form or request too large", http.StatusBadRequest)
		return
	}
	hint, ok := formatHint(w, r)
	if !ok {
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		utils.SendJSONError(w, "No files found. Use one or more 'file' fields.", http.StatusBadRequest)
		return
	}
	if len(headers) > maxBatchFiles {
		utils.SendJSONError(w, fmt.Sprintf("Too many files, max %d per batch", maxBatchFiles), http.StatusBadRequest)
		return
	}

	uploads := make([]services.Upload, 0, len(headers))
	for _, fh := range headers {
		data, err := h.readPart(fh)
		if err != nil {
			log.Warn("Rejected batch file", "filename", fh.Filename, "error", err)
			utils.SendJSONError(w, fmt.Sprintf("%s: %v", fh.Filename, err), http.StatusBadRequest)
			return
		}
		uploads = append(uploads, services.Upload{Filename: validation.SanitizeFilename(fh.Filename), Data: data, Hint: hint})
	}

	results, err := h.importService.ImportBatch(r.Context(), uploads)
	if err != nil {
		log.Error("Batch import interrupted", "error", err)
		utils.SendJSONError(w, "Batch import was interrupted", http.StatusServiceUnavailable)
		return
	}
	utils.SendJSON(w, results, http.StatusOK)
}

// readUpload reads the "file" part and the optional "format" field. On
// failure it has already written the response.
func (h *ImportHandler) readUpload(w http.ResponseWriter, r *http.Request) (services.Upload, bool) {
	log := logger.FromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		log.Warn("Failed to parse multipart form or request too large", "error", err, "limit", h.maxUpload)
		utils.SendJSONError(w, fmt.Sprintf("Failed to parse form or request too large (max %d MB)", h.maxUpload/(1024*1024)), http.StatusBadRequest)
		return services.Upload{}, false
	}
	hint, ok := formatHint(w, r)
	if !ok {
		return services.Upload{}, false
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		log.Warn("Failed to retrieve file from request", "error", err)
		utils.SendJSONError(w, "Failed to retrieve file from request. Ensure 'file' field is used.", http.StatusBadRequest)
		return services.Upload{}, false
	}
	file.Close()
	data, err := h.readPart(fileHeader)
	if err != nil {
		log.Warn("Upload rejected", "filename", fileHeader.Filename, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return services.Upload{}, false
	}
	name := validation.SanitizeFilename(fileHeader.Filename)
	log.Info("Processing upload request", "filename", name, "size", len(data), "format", hint)
	return services.Upload{Filename: name, Data: data, Hint: hint}, true
}

// readPart validates one multipart file and returns its bytes.
func (h *ImportHandler) readPart(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > h.maxUpload {
		return nil, fmt.Errorf("file too large, max %d MB", h.maxUpload/(1024*1024))
	}
	if err := validation.ValidateExtension(fh.Filename); err != nil {
		return nil, err
	}
	if err := validation.ValidateClientContentType(fh.Header.Get("Content-Type")); err != nil {
		return nil, err
	}
	file, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer file.Close()

	if _, err := validation.ValidateFileContentByMagicBytes(file); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}
	if int64(len(data)) > h.maxUpload {
		return nil, fmt.Errorf("file too large, max %d MB", h.maxUpload/(1024*1024))
	}
	return data, nil
}

func formatHint(w http.ResponseWriter, r *http.Request) (models.Format, bool) {
	raw := r.FormValue("format")
	if raw == "" || raw == "auto" {
		return "", true
	}
	f, ok := models.ParseFormat(raw)
	if !ok {
		utils.SendJSONError(w, fmt.Sprintf("Unknown format %q", raw), http.StatusBadRequest)
		return "", false
	}
	return f, true
}

// sendServiceError maps service sentinels to statuses. A failed parse still
// carries its result so the client can show the errors.
func (h *ImportHandler) sendServiceError(w http.ResponseWriter, r *http.Request, filename string, err error, out *services.ImportResult) {
	log := logger.FromContext(r.Context())
	switch {
	case errors.Is(err, services.ErrEmptyInput):
		log.Warn("Empty upload", "filename", filename)
		utils.SendJSONError(w, "The uploaded file is empty", http.StatusBadRequest)
	case errors.Is(err, services.ErrUnsupportedFormat):
		log.Warn("Unsupported upload format", "filename", filename, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusUnsupportedMediaType)
	case errors.Is(err, services.ErrParsingFailed):
		log.Warn("Upload could not be parsed", "filename", filename, "error", err)
		if out != nil {
			utils.SendJSON(w, out, http.StatusUnprocessableEntity)
			return
		}
		utils.SendJSONError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		log.Error("Internal error processing upload", "filename", filename, "error", err)
		utils.SendJSONError(w, "An internal error occurred while processing the file. Please try again later.", http.StatusInternalServerError)
	}
}
