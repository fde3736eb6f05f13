package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FeeIdentifier is the identifier carried by fee records.
const FeeIdentifier = "fee"

// RecordGroup clusters the records of one real-world transaction.
type RecordGroup struct {
	ID        int64     `db:"id"`
	Timestamp time.Time `db:"timestamp"`
}

// Record is one observed movement of a currency. Amount is always a
// magnitude; the direction is carried by Outgoing.
type Record struct {
	ID          int64           `db:"id"`
	GroupID     int64           `db:"group_id"`
	Timestamp   time.Time       `db:"timestamp"`
	Currency    string          `db:"currency"`
	Amount      decimal.Decimal `db:"amount"`
	Outgoing    bool            `db:"outgoing"`
	Platform    string          `db:"platform"`
	Transaction string          `db:"tx_hash"`
	FromAddress string          `db:"from_address"`
	ToAddress   string          `db:"to_address"`
	IsFee       bool            `db:"is_fee"`
	Identifier  string          `db:"identifier"`
	NeedsEvent  bool            `db:"needs_event"`
}

func (r Record) String() string {
	direction := "Incoming"
	if r.Outgoing {
		direction = "Outgoing"
	}
	if r.IsFee {
		direction += " fee"
	}
	return fmt.Sprintf("%s %s %s", direction, r.Currency, r.Amount.String())
}

// EventKind is the tax consequence of a record.
type EventKind int

const (
	Disposal EventKind = iota
	Acquisition
	DisposalFee
	FiatFee
)

func (k EventKind) String() string {
	switch k {
	case Disposal:
		return "Disposal"
	case Acquisition:
		return "Acquisition"
	case DisposalFee:
		return "Disposal (fee)"
	case FiatFee:
		return "Fiat fee"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is the priced tax consequence of exactly one record. A nil Price
// means the lookup was attempted and failed.
type Event struct {
	ID            int64            `db:"id"`
	RecordID      int64            `db:"record_id"`
	Kind          EventKind        `db:"kind"`
	Timestamp     time.Time        `db:"timestamp"`
	Currency      string           `db:"currency"`
	Amount        decimal.Decimal  `db:"amount"`
	Price         *decimal.Decimal `db:"price"`
	PriceCurrency string           `db:"price_currency"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s: %s %s", e.Kind, e.Currency, e.Amount.String())
}
