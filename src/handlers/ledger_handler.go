package handlers

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/username/taxfolio/importer/src/logger"
	"github.com/username/taxfolio/importer/src/models"
	"github.com/username/taxfolio/importer/src/security/validation"
	"github.com/username/taxfolio/importer/src/utils"
)

// LedgerReader is the read side of the store.
type LedgerReader interface {
	Transactions(ctx context.Context) ([]models.ParsedTransaction, error)
	Positions(ctx context.Context) ([]models.ParsedRow, error)
}

type LedgerHandler struct {
	store LedgerReader
}

func NewLedgerHandler(store LedgerReader) *LedgerHandler {
	return &LedgerHandler{store: store}
}

func (h *LedgerHandler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.Positions(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("Error retrieving positions", "error", err)
		utils.SendJSONError(w, "Error retrieving positions", http.StatusInternalServerError)
		return
	}
	sendWithETag(w, r, rows, "positions")
}

// HandleGetTransactions returns the ledger as JSON, or as CSV with
// ?format=csv.
func (h *LedgerHandler) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.store.Transactions(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("Error retrieving transactions", "error", err)
		utils.SendJSONError(w, "Error retrieving transactions", http.StatusInternalServerError)
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		writeTransactionsCSV(w, r, txs)
		return
	}
	sendWithETag(w, r, txs, "transactions")
}

func sendWithETag(w http.ResponseWriter, r *http.Request, data interface{}, what string) {
	log := logger.FromContext(r.Context())
	currentETag, etagErr := utils.GenerateETag(data)
	if etagErr != nil {
		log.Error("Failed to generate ETag", "data", what, "error", etagErr)
	}

	w.Header().Set("Cache-Control", "no-cache, private")
	if etagErr == nil && currentETag != "" {
		quotedETag := fmt.Sprintf("\"%s\"", currentETag)
		w.Header().Set("ETag", quotedETag)
		if utils.ETagMatches(r, quotedETag) {
			log.Debug("ETag match", "data", what, "etag", currentETag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	utils.SendJSON(w, data, http.StatusOK)
}

var transactionCSVHeader = []string{
	"date", "platform", "external_id", "symbol", "name", "isin", "type",
	"quantity", "price", "currency", "fee", "venue", "description", "needs_cost_input",
}

func writeTransactionsCSV(w http.ResponseWriter, r *http.Request, txs []models.ParsedTransaction) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="transactions.csv"`)

	cw := csv.NewWriter(w)
	cw.Write(transactionCSVHeader)
	for _, tx := range txs {
		cw.Write([]string{
			tx.Date.Format(time.RFC3339),
			tx.Platform,
			validation.SanitizeCSVField(tx.ExternalID),
			validation.SanitizeCSVField(tx.Symbol),
			validation.SanitizeCSVField(tx.Name),
			tx.ISIN,
			string(tx.Kind),
			strconv.FormatFloat(tx.Quantity, 'f', -1, 64),
			strconv.FormatFloat(tx.Price, 'f', -1, 64),
			tx.Currency,
			strconv.FormatFloat(tx.Fee, 'f', -1, 64),
			validation.SanitizeCSVField(tx.Venue),
			validation.SanitizeCSVField(tx.Description),
			strconv.FormatBool(tx.NeedsCostInput),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		logger.FromContext(r.Context()).Error("Error writing transactions CSV", "error", err)
	}
}
