// src/handlers/import_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/williams2w4/tradej/src/config"
	"github.com/williams2w4/tradej/src/database"
	"github.com/williams2w4/tradej/src/logger"
	"github.com/williams2w4/tradej/src/model"
	"github.com/williams2w4/tradej/src/models"
	"github.com/williams2w4/tradej/src/services"
	"github.com/williams2w4/tradej/src/utils"
)

type ImportHandler struct {
	importService services.ImportService
}

func NewImportHandler(service services.ImportService) *ImportHandler {
	return &ImportHandler{
		importService: service,
	}
}

func (h *ImportHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(config.Cfg.MaxUploadSizeBytes); err != nil {
		logger.L.Warn("Failed to parse multipart form or request too large", "error", err, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("Failed to parse form or request too large (max %d MB)", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	broker := r.FormValue("broker")
	if broker == "" {
		broker = "ibkr"
	}

	policy := services.DuplicatePolicy(r.FormValue("mode"))
	switch policy {
	case "", services.DuplicateSkip, services.DuplicateOverride:
	default:
		utils.SendJSONError(w, fmt.Sprintf("Unknown duplicate mode %q. Use 'skip' or 'override'.", policy), http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		logger.L.Warn("Failed to retrieve file from request", "error", err)
		utils.SendJSONError(w, "Failed to retrieve file from request. Ensure 'file' field is used.", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if fileHeader.Size > config.Cfg.MaxUploadSizeBytes {
		logger.L.Warn("Uploaded file header reports size too large", "fileSize", fileHeader.Size, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("File too large, max %d MB", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	logger.L.Info("Processing import request", "broker", broker, "filename", fileHeader.Filename, "mode", string(policy))
	batch, err := h.importService.ProcessImport(broker, fileHeader.Filename, file, policy)
	if err != nil {
		if errors.Is(err, services.ErrDuplicatesOnly) {
			logger.L.Info("Import rejected: batch contained only known fills", "filename", fileHeader.Filename, "error", err)
			utils.SendJSONError(w, err.Error(), http.StatusConflict)
		} else if errors.Is(err, services.ErrOpenTradeConflict) {
			logger.L.Warn("Import rejected: open-position conflict", "filename", fileHeader.Filename, "error", err)
			utils.SendJSONError(w, err.Error(), http.StatusConflict)
		} else if errors.Is(err, services.ErrParsingFailed) {
			logger.L.Warn("Import failed during parsing", "filename", fileHeader.Filename, "error", err)
			utils.SendJSONError(w, fmt.Sprintf("Error parsing broker file: %v", err), http.StatusBadRequest)
		} else {
			logger.L.Error("Internal error processing import", "filename", fileHeader.Filename, "error", err)
			utils.SendJSONError(w, "An internal error occurred while processing the file. Please try again later.", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(batch); err != nil {
		logger.L.Error("Error encoding JSON response for import result", "error", err)
	}
}

func (h *ImportHandler) HandleListImports(w http.ResponseWriter, r *http.Request) {
	batches, err := model.ListImportBatches(database.DB)
	if err != nil {
		logger.L.Error("Error listing import batches", "error", err)
		utils.SendJSONError(w, "An internal error occurred while listing imports", http.StatusInternalServerError)
		return
	}
	if batches == nil {
		batches = []models.ImportBatch{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(batches); err != nil {
		logger.L.Error("Error encoding JSON response for import batches", "error", err)
	}
}
