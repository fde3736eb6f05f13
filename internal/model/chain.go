package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChainTransaction is a ledger transaction as reported by an explorer.
type ChainTransaction struct {
	Hash    string
	Time    time.Time
	Inputs  []TxInput
	Outputs []TxOutput
}

// TxInput spends a prior output. Resolved is false when the explorer could not
// report the prior output (e.g. coinbase inputs).
type TxInput struct {
	Address  string
	Value    decimal.Decimal
	Resolved bool
}

// TxOutput pays Value to Address. Address is empty for null-data outputs.
type TxOutput struct {
	Address string
	Value   decimal.Decimal
	Index   int
}

// InputAddresses returns the addresses of the resolvable inputs, in order.
func (tx ChainTransaction) InputAddresses() []string {
	var out []string
	for _, in := range tx.Inputs {
		if in.Resolved {
			out = append(out, in.Address)
		}
	}
	return out
}

// TotalInput sums the values of the resolvable inputs.
func (tx ChainTransaction) TotalInput() decimal.Decimal {
	total := decimal.Zero
	for _, in := range tx.Inputs {
		if in.Resolved {
			total = total.Add(in.Value)
		}
	}
	return total
}

// TotalOutput sums all declared outputs.
func (tx ChainTransaction) TotalOutput() decimal.Decimal {
	total := decimal.Zero
	for _, out := range tx.Outputs {
		total = total.Add(out.Value)
	}
	return total
}
