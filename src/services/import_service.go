package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/username/taxfolio/importer/src/detector"
	"github.com/username/taxfolio/importer/src/logger"
	"github.com/username/taxfolio/importer/src/models"
	"github.com/username/taxfolio/importer/src/normalizer"
	"github.com/username/taxfolio/importer/src/parsers"
	"github.com/username/taxfolio/importer/src/resolver"
	"github.com/username/taxfolio/importer/src/tabular"
)

const (
	DefaultCacheExpiration = 15 * time.Minute
	CacheCleanupInterval   = 30 * time.Minute

	ckPreview = "preview_%s"
)

// ImportService detects, parses and optionally persists uploads. Parse
// results are cached by content, so previewing and then importing the same
// file parses it once.
type ImportService struct {
	resolver *resolver.Resolver
	cache    *cache.Cache
	store    ResultStore
	workers  int
}

// NewImportService wires the service. store may be nil for preview-only use.
func NewImportService(res *resolver.Resolver, resultCache *cache.Cache, store ResultStore, workers int) *ImportService {
	if workers < 1 {
		workers = 1
	}
	return &ImportService{resolver: res, cache: resultCache, store: store, workers: workers}
}

// Preview parses data without persisting it. A file-level defect is not an
// error here: the result carries Success=false and its Errors.
func (s *ImportService) Preview(ctx context.Context, filename string, data []byte, hint models.Format) (*models.ParseResult, error) {
	log := logger.FromContext(ctx)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyInput
	}

	named, _ := detector.DetectFromFilename(filename)
	key := fmt.Sprintf(ckPreview, contentKey(hint, named, data))
	if cached, found := s.cache.Get(key); found {
		log.Debug("Cache hit for parse result", "filename", filename)
		return cached.(*models.ParseResult), nil
	}

	d := s.detect(filename, data, hint)
	if d.Format == models.FormatNone {
		return nil, fmt.Errorf("%w: could not recognise %s", ErrUnsupportedFormat, filename)
	}
	parser, err := parsers.GetParser(d.Format, s.resolver)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	start := time.Now()
	res, err := parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}
	res.ImportID = uuid.NewString()
	if res.Metal == "" {
		res.Metal = d.Metal
	}
	log.Info("Parsed upload", "filename", filename, "format", res.Format, "rows", len(res.Rows),
		"transactions", len(res.Transactions), "success", res.Success, "duration", time.Since(start))

	s.cache.Set(key, res, cache.DefaultExpiration)
	return res, nil
}

// Import parses and persists one upload. A result with Success=false is
// returned together with ErrParsingFailed and nothing is stored.
func (s *ImportService) Import(ctx context.Context, filename string, data []byte, hint models.Format) (*ImportResult, error) {
	preview, err := s.Preview(ctx, filename, data, hint)
	if err != nil {
		return nil, err
	}
	// The cached preview is shared; every import gets its own id.
	res := *preview
	res.ImportID = uuid.NewString()
	out := &ImportResult{Filename: filename, Result: &res}
	if !res.Success {
		return out, fmt.Errorf("%w: %s", ErrParsingFailed, strings.Join(res.Errors, "; "))
	}
	if s.store == nil {
		return out, nil
	}
	out.Inserted, err = s.store.SaveResult(ctx, &res, filename)
	if err != nil {
		return out, fmt.Errorf("storing import %s: %w", res.ImportID, err)
	}
	return out, nil
}

// ImportBatch imports independent files in parallel. A failing file does
// not stop the others; its error is reported in its own entry. The returned
// error is only set when ctx is cancelled.
func (s *ImportService) ImportBatch(ctx context.Context, uploads []Upload) ([]ImportResult, error) {
	results := make([]ImportResult, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, u := range uploads {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := s.Import(gctx, u.Filename, u.Data, u.Hint)
			if r != nil {
				results[i] = *r
			} else {
				results[i] = ImportResult{Filename: u.Filename}
			}
			if err != nil {
				logger.FromContext(ctx).Warn("Batch import entry failed", "filename", u.Filename, "error", err)
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// detect resolves the format: an explicit hint first, then the file name,
// then bank statement anchors, then the header row.
func (s *ImportService) detect(filename string, data []byte, hint models.Format) detector.Detection {
	var text string
	if !tabular.IsSpreadsheet(data) {
		text = normalizer.DecodeBytes(data)
	}
	if hint != "" && hint != models.FormatNone {
		return detector.DetectWithHint(hint, nil, text)
	}
	if f, ok := detector.DetectFromFilename(filename); ok {
		return detector.Detection{Format: f}
	}
	if d, ok := detector.DetectText(text); ok {
		return d
	}
	table, err := tabular.Decode(data)
	if err != nil {
		if detector.IsTextStatement(filename) {
			return detector.Detection{Format: models.FormatBankInvestment}
		}
		return detector.Detection{Format: models.FormatNone}
	}
	return detector.Detect(table.Headers, "")
}

// contentKey covers everything detection looks at: the hint, what the file
// name implies and the bytes.
func contentKey(hint, named models.Format, data []byte) string {
	h := sha256.New()
	h.Write([]byte(hint))
	h.Write([]byte{'|'})
	h.Write([]byte(named))
	h.Write([]byte{'|'})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
