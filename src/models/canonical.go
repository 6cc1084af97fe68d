package models

import (
	"strings"
	"time"
)

// TransactionKind classifies one ledger event.
type TransactionKind string

const (
	KindBuy        TransactionKind = "BUY"
	KindSell       TransactionKind = "SELL"
	KindDeposit    TransactionKind = "DEPOSIT"
	KindWithdrawal TransactionKind = "WITHDRAWAL"
	KindFee        TransactionKind = "FEE"
	KindDividend   TransactionKind = "DIVIDEND"
	KindStaking    TransactionKind = "STAKING"
	KindInterest   TransactionKind = "INTEREST"
	KindTax        TransactionKind = "TAX"
)

var kindAliases = map[string]TransactionKind{
	"BUY": KindBuy, "B": KindBuy, "PURCHASE": KindBuy, "KOOP": KindBuy, "COMPRA": KindBuy, "KAUF": KindBuy, "ALIS": KindBuy, "ALIM": KindBuy,
	"SELL": KindSell, "S": KindSell, "SALE": KindSell, "VERKOOP": KindSell, "VENDA": KindSell, "VERKAUF": KindSell, "SATIS": KindSell, "SATIM": KindSell,
	"DEPOSIT": KindDeposit, "DEPOSITO": KindDeposit, "STORTING": KindDeposit, "YATIRMA": KindDeposit,
	"WITHDRAWAL": KindWithdrawal, "WITHDRAW": KindWithdrawal, "LEVANTAMENTO": KindWithdrawal, "OPNAME": KindWithdrawal, "CEKME": KindWithdrawal,
	"FEE": KindFee, "FEES": KindFee, "COMMISSION": KindFee, "KOMISYON": KindFee, "KOSTEN": KindFee,
	"DIVIDEND": KindDividend, "DIVIDENDO": KindDividend, "TEMETTU": KindDividend,
	"STAKING": KindStaking, "REWARD": KindStaking,
	"INTEREST": KindInterest, "RENTE": KindInterest, "JUROS": KindInterest, "FAIZ": KindInterest,
	"TAX": KindTax, "WITHHOLDING": KindTax, "STOPAJ": KindTax, "VERGI": KindTax,
}

// ParseTransactionKind accepts English, Dutch, Portuguese, German and
// Turkish spellings. Input is expected to be diacritic-folded already.
func ParseTransactionKind(s string) (TransactionKind, bool) {
	k, ok := kindAliases[strings.ToUpper(strings.TrimSpace(s))]
	return k, ok
}

// ParsedTransaction is one canonical ledger entry. It is created once by a
// parser and not modified afterwards.
type ParsedTransaction struct {
	Symbol     string          `json:"symbol"`
	Name       string          `json:"name,omitempty"`
	ISIN       string          `json:"isin,omitempty"`
	Kind       TransactionKind `json:"type"`
	Quantity   float64         `json:"quantity"`
	Price      float64         `json:"price"`
	Currency   string          `json:"currency"`
	Date       time.Time       `json:"date"`
	RawDate    string          `json:"raw_date"`
	Venue      string          `json:"venue,omitempty"`
	Platform   string          `json:"platform"`
	ExternalID string          `json:"external_id"`
	Fee        float64         `json:"fee"`

	// NeedsCostInput marks a BUY whose unit cost could not be discovered.
	NeedsCostInput bool   `json:"needs_cost_input,omitempty"`
	Description    string `json:"description,omitempty"`
}
