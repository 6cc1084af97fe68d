package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/patrickmn/go-cache"

	"github.com/username/taxfolio/importer/src/database"
	"github.com/username/taxfolio/importer/src/models"
	"github.com/username/taxfolio/importer/src/resolver"
	"github.com/username/taxfolio/importer/src/services"
)

const tradesCSV = "Symbol,Type,Quantity,Price,Currency,Date\n" +
	"AAPL,Buy,10,100,USD,2024-01-02\n" +
	"AAPL,Sell,4,120,USD,2024-02-02\n"

type part struct {
	filename string
	content  string
}

func multipartRequest(t *testing.T, target, format string, files ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if format != "" {
		assert.NoError(t, mw.WriteField("format", format))
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile("file", f.filename)
		assert.NoError(t, err)
		_, err = fw.Write([]byte(f.content))
		assert.NoError(t, err)
	}
	assert.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newHandlers(t *testing.T) (*ImportHandler, *LedgerHandler) {
	t.Helper()
	store, err := database.Open(filepath.Join(t.TempDir(), "handlers.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	svc := services.NewImportService(resolver.Default(), cache.New(time.Minute, time.Minute), store, 2)
	return NewImportHandler(svc, 1<<20), NewLedgerHandler(store)
}

func TestHandlePreview(t *testing.T) {
	ih, _ := newHandlers(t)
	rec := httptest.NewRecorder()
	ih.HandlePreview(rec, multipartRequest(t, "/api/import/preview", "", part{"trades.csv", tradesCSV}))

	assert.Equal(t, http.StatusOK, rec.Code)
	var res models.ParseResult
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, models.FormatGeneric, res.Format)
	assert.Equal(t, 2, len(res.Transactions))
}

func TestHandleImportThenReadPositions(t *testing.T) {
	ih, lh := newHandlers(t)
	rec := httptest.NewRecorder()
	ih.HandleImport(rec, multipartRequest(t, "/api/import", "generic", part{"trades.csv", tradesCSV}))
	assert.Equal(t, http.StatusOK, rec.Code)
	var out services.ImportResult
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 2, out.Inserted)

	rec = httptest.NewRecorder()
	lh.HandleGetPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var rows []models.ParsedRow
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Equal(t, 1, len(rows))
	assert.Equal(t, 6.0, rows[0].Quantity)

	etag := rec.Header().Get("ETag")
	assert.NotEqual(t, "", etag)
	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.Header.Set("If-None-Match", `"stale", `+etag)
	rec = httptest.NewRecorder()
	lh.HandleGetPositions(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestHandleImportErrors(t *testing.T) {
	tests := []struct {
		name   string
		format string
		file   part
		want   int
	}{
		{"unknown format field", "pdf", part{"trades.csv", tradesCSV}, http.StatusBadRequest},
		{"unsupported extension", "", part{"statement.pdf", tradesCSV}, http.StatusBadRequest},
		{"empty file", "", part{"empty.csv", "\n"}, http.StatusBadRequest},
		{"unrecognised content", "", part{"single.csv", "just one line"}, http.StatusUnsupportedMediaType},
		{"statement without sections", "", part{"notes.txt", "nothing to see here\n"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ih, _ := newHandlers(t)
			rec := httptest.NewRecorder()
			ih.HandleImport(rec, multipartRequest(t, "/api/import", tt.format, tt.file))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHandleImportBatch(t *testing.T) {
	ih, _ := newHandlers(t)
	rec := httptest.NewRecorder()
	ih.HandleImportBatch(rec, multipartRequest(t, "/api/import/batch", "",
		part{"trades.csv", tradesCSV},
		part{"broken.csv", "x"},
	))
	assert.Equal(t, http.StatusOK, rec.Code)
	var results []services.ImportResult
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	assert.Equal(t, 2, len(results))
	assert.Equal(t, "", results[0].Error)
	assert.NotEqual(t, "", results[1].Error)
}

type fakeLedger struct {
	txs []models.ParsedTransaction
}

func (f fakeLedger) Transactions(context.Context) ([]models.ParsedTransaction, error) {
	return f.txs, nil
}

func (f fakeLedger) Positions(context.Context) ([]models.ParsedRow, error) {
	return []models.ParsedRow{}, nil
}

func TestHandleGetTransactionsCSV(t *testing.T) {
	lh := NewLedgerHandler(fakeLedger{txs: []models.ParsedTransaction{{
		Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Platform: "DEGIRO", ExternalID: "a-1",
		Symbol: "AAPL", Kind: models.KindBuy, Quantity: 10, Price: 150.25, Currency: "USD",
		Description: "=HYPERLINK(\"x\")",
	}}})
	rec := httptest.NewRecorder()
	lh.HandleGetTransactions(rec, httptest.NewRequest(http.MethodGet, "/api/transactions?format=csv", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Equal(t, 2, len(lines))
	assert.True(t, strings.HasPrefix(lines[0], "date,platform,external_id"))
	assert.Contains(t, lines[1], "2024-01-02T00:00:00Z,DEGIRO,a-1,AAPL")
	assert.Contains(t, lines[1], `"'=HYPERLINK(""x"")"`)
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	h := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEqual(t, "", rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(requestIDHeader))
}
