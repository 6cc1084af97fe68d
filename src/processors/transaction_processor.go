package processors

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/username/taxfolio/importer/src/models"
)

// ExternalIDs hands out unique external ids within one import. Partial fills
// of the same order share an order id; repeats get "-1", "-2" suffixes so
// idempotent inserts do not collapse them.
type ExternalIDs struct {
	seen map[string]int
}

func NewExternalIDs() *ExternalIDs {
	return &ExternalIDs{seen: map[string]int{}}
}

// Next returns id the first time, then id-1, id-2 and so on.
func (e *ExternalIDs) Next(id string) string {
	n := e.seen[id]
	e.seen[id] = n + 1
	if n == 0 {
		return id
	}
	return fmt.Sprintf("%s-%d", id, n)
}

// GenerateHash creates a stable id from source fields, for rows without an
// order id of their own.
func GenerateHash(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// FinalizeTransactions orders the ledger by date. Entries on the same date
// keep their file order.
func FinalizeTransactions(txs []models.ParsedTransaction) []models.ParsedTransaction {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Date.Before(txs[j].Date)
	})
	return txs
}
