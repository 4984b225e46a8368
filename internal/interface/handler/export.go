package handler

import (
	"net/http"

	"github.com/relaywire/proxy/internal/domain"
)

// ExportHandler serves the retained exchange history for the UI's
// export feature.
type ExportHandler struct {
	store  domain.ExchangeStore
	logger domain.Logger
}

// NewExportHandler wires the exchange store the export endpoint reads.
func NewExportHandler(store domain.ExchangeStore, logger domain.Logger) *ExportHandler {
	return &ExportHandler{store: store, logger: logger}
}

// HandleExport writes the retained exchanges as a JSON array.
func (h *ExportHandler) HandleExport(w http.ResponseWriter, _ *http.Request) {
	data, err := h.store.Export()
	if err != nil {
		h.logger.Error("failed to export exchanges", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
