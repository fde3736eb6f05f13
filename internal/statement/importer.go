// Package statement imports exchange statement exports into the ledger.
package statement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"cryptoscope/internal/database"
	"cryptoscope/internal/ledger"
)

// ErrUnrecognizedTransferShape marks a row that is neither a purchase nor a
// transfer in or out.
var ErrUnrecognizedTransferShape = errors.New("unrecognized transfer shape")

// Result counts the rows of one import.
type Result struct {
	Parsed  int
	Skipped int
	Failed  int
	Errors  []error
}

func (r *Result) fail(err error) {
	r.Failed++
	r.Errors = append(r.Errors, err)
}

// Importer reads one platform's statement format.
type Importer interface {
	Platform() string
	Import(ctx context.Context, r io.Reader) (Result, error)
}

// NewImporter creates the importer for the named platform.
func NewImporter(platform string, repo database.LedgerRepository, deriver *ledger.Deriver, logger *slog.Logger) (Importer, error) {
	switch platform {
	case coinbasePlatform:
		return NewCoinbaseImporter(repo, deriver, logger), nil
	default:
		return nil, fmt.Errorf("unknown statement format: %s", platform)
	}
}
