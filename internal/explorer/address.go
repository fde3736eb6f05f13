package explorer

import (
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
)

var (
	ErrUnsupportedAddress = errors.New("bech32 addresses are not currently supported")
	ErrInvalidAddress     = errors.New("invalid address")
)

const (
	pubKeyHashVersion = 0x00
	scriptHashVersion = 0x05
	hash160Size       = 20
)

// validateBase58Check checks a legacy mainnet address: a pubkey hash or
// script hash version byte, a 20 byte hash and a valid checksum.
func validateBase58Check(address string) error {
	if strings.HasPrefix(address, "bc1") {
		return ErrUnsupportedAddress
	}
	if address == "" || !strings.ContainsRune("13", rune(address[0])) {
		return errors.Join(ErrInvalidAddress, errors.New("not a mainnet public key or script address"))
	}
	if len(address) < 26 || len(address) > 34 {
		return errors.Join(ErrInvalidAddress, errors.New("length is not within a valid range"))
	}
	hash, version, err := base58.CheckDecode(address)
	switch {
	case errors.Is(err, base58.ErrChecksum):
		return errors.Join(ErrInvalidAddress, errors.New("failed integrity checks, may be mistyped"))
	case err != nil:
		return errors.Join(ErrInvalidAddress, err)
	}
	if version != pubKeyHashVersion && version != scriptHashVersion {
		return errors.Join(ErrInvalidAddress, errors.New("not a mainnet public key or script address"))
	}
	if len(hash) != hash160Size {
		return errors.Join(ErrInvalidAddress, errors.New("does not decode to a 20 byte hash"))
	}
	return nil
}
