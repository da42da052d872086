// Package feerate converts between the fee rate units of built
// transactions.
package feerate

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// SatPerVByte is a fee rate in satoshis per virtual byte.
type SatPerVByte btcutil.Amount

// FeePerKVByte converts the rate to satoshis per kilo virtual byte.
func (s SatPerVByte) FeePerKVByte() SatPerKVByte {
	return SatPerKVByte(s * 1000)
}

// String returns a human-readable string of the fee rate.
func (s SatPerVByte) String() string {
	return fmt.Sprintf("%v sat/vb", int64(s))
}

// SatPerKVByte is a fee rate in satoshis per kilo virtual byte.
type SatPerKVByte btcutil.Amount

// NewSatPerKVByte returns the rate paying fee for vbytes virtual bytes.
func NewSatPerKVByte(fee btcutil.Amount, vbytes int) SatPerKVByte {
	if vbytes == 0 {
		return 0
	}

	return SatPerKVByte(fee.MulF64(1000 / float64(vbytes)))
}

// FeeForVSize returns the fee of vbytes virtual bytes, rounded down.
func (s SatPerKVByte) FeeForVSize(vbytes int) btcutil.Amount {
	return btcutil.Amount(s) * btcutil.Amount(vbytes) / 1000
}

// Amount returns the rate as the per kilobyte amount the transaction
// author expects.
func (s SatPerKVByte) Amount() btcutil.Amount {
	return btcutil.Amount(s)
}

// String returns a human-readable string of the fee rate.
func (s SatPerKVByte) String() string {
	return fmt.Sprintf("%v sat/kvb", int64(s))
}
