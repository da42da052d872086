// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package account

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/btcsuite/hdaccount/internal/keychain"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Output is a payment requested from the account.
type Output struct {
	// Address is the encoded destination address.
	Address string

	// Amount is the value paid to Address.
	Amount btcutil.Amount
}

// txOuts decodes the requested payments into transaction outputs and checks
// them against the relay policy.
func (a *HDAccount) txOuts(outputs []Output) ([]*wire.TxOut, error) {
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}

	txOuts := make([]*wire.TxOut, 0, len(outputs))
	for _, out := range outputs {
		addr, err := btcutil.DecodeAddress(out.Address, a.cfg.ChainParams)
		if err != nil {
			return nil, fmt.Errorf("decode address %q: %w",
				out.Address, err)
		}
		if !addr.IsForNet(a.cfg.ChainParams) {
			return nil, fmt.Errorf("address %q is not for %s",
				out.Address, a.cfg.ChainParams.Name)
		}

		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}

		txOut := wire.NewTxOut(int64(out.Amount), pkScript)
		err = txrules.CheckOutput(txOut, txrules.DefaultRelayFeePerKb)
		if err != nil {
			return nil, fmt.Errorf("output to %s: %w", out.Address,
				err)
		}

		txOuts = append(txOuts, txOut)
	}

	return txOuts, nil
}

// makeInputSource creates an InputSource that adds the given credits in
// order until the target amount is reached.
func makeInputSource(eligible []db.Credit) txauthor.InputSource {
	// Current inputs and their total value. These are closed over by the
	// returned input source and reused across multiple calls.
	currentTotal := btcutil.Amount(0)
	currentInputs := make([]*wire.TxIn, 0, len(eligible))
	currentScripts := make([][]byte, 0, len(eligible))
	currentInputValues := make([]btcutil.Amount, 0, len(eligible))

	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn,
		[]btcutil.Amount, [][]byte, error) {

		for currentTotal < target && len(eligible) != 0 {
			nextCredit := eligible[0]
			outpoint := nextCredit.OutPoint
			eligible = eligible[1:]

			nextInput := wire.NewTxIn(&outpoint, nil, nil)
			currentTotal += nextCredit.Amount

			currentInputs = append(currentInputs, nextInput)
			currentScripts = append(
				currentScripts, nextCredit.PkScript,
			)
			currentInputValues = append(
				currentInputValues, nextCredit.Amount,
			)
		}

		return currentTotal, currentInputs, currentInputValues,
			currentScripts, nil
	}
}

// unsignedTx is an authored transaction together with the change address it
// pays, if any.
type unsignedTx struct {
	*txauthor.AuthoredTx

	change *db.AddressInfo
}

// buildUnsignedTx selects inputs among the account's unspent outputs to
// fund outputs, paying any change to the next change address. Must be
// called with the account mutex held.
func (a *HDAccount) buildUnsignedTx(ctx context.Context,
	outputs []Output) (*unsignedTx, error) {

	txOuts, err := a.txOuts(outputs)
	if err != nil {
		return nil, err
	}

	eligible, err := a.cfg.Store.UnspentOutputs(ctx, db.CreditQuery{
		AccountID: a.id,
		Branch:    fn.None[db.Branch](),
	})
	if err != nil {
		return nil, err
	}

	change, err := a.nextChangeAddress(ctx)
	if err != nil {
		return nil, err
	}

	changeSource := &txauthor.ChangeSource{
		NewScript: func() ([]byte, error) {
			addr, err := btcutil.DecodeAddress(
				change.Address, a.cfg.ChainParams,
			)
			if err != nil {
				return nil, err
			}

			return txscript.PayToAddrScript(addr)
		},
		ScriptSize: txsizes.P2PKHPkScriptSize,
	}

	tx, err := txauthor.NewUnsignedTransaction(
		txOuts, a.cfg.FeeRate.Amount(), makeInputSource(eligible),
		changeSource,
	)
	if err != nil {
		return nil, err
	}

	// Randomize change position, if change exists, before signing.
	if tx.ChangeIndex >= 0 {
		tx.RandomizeChangePosition()
	}

	unsigned := &unsignedTx{AuthoredTx: tx}
	if tx.ChangeIndex >= 0 {
		unsigned.change = change
	}

	return unsigned, nil
}

// BuildAndSign funds the outputs from the account, signs every input and
// verifies the result. The transaction is not recorded or broadcast.
func (a *HDAccount) BuildAndSign(ctx context.Context, outputs []Output,
	password []byte) (*txauthor.AuthoredTx, error) {

	if !a.hasPrivateKey {
		return nil, ErrNoPrivateKey
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	unsigned, err := a.buildUnsignedTx(ctx, outputs)
	if err != nil {
		return nil, err
	}
	tx := unsigned.AuthoredTx

	if err := a.signTx(ctx, tx, password); err != nil {
		return nil, err
	}

	log.Infof("HD account %d built tx %v spending %d inputs at %v", a.id,
		tx.Tx.TxHash(), len(tx.Tx.TxIn), a.cfg.FeeRate)
	log.Tracef("Signed tx: %v", newLogClosure(func() string {
		return spew.Sdump(tx.Tx)
	}))

	return tx, nil
}

// BuildUnsigned funds the outputs from the account and returns the result
// as a PSBT carrying what an external signer needs: the previous
// transaction of every input and the derivation path of every key.
func (a *HDAccount) BuildUnsigned(ctx context.Context,
	outputs []Output) (*psbt.Packet, error) {

	a.mu.Lock()
	defer a.mu.Unlock()

	unsigned, err := a.buildUnsignedTx(ctx, outputs)
	if err != nil {
		return nil, err
	}
	tx := unsigned.Tx

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}

	prevOuts := make([]wire.OutPoint, 0, len(tx.TxIn))
	for _, txIn := range tx.TxIn {
		prevOuts = append(prevOuts, txIn.PreviousOutPoint)
	}

	signers, err := a.cfg.Store.SigningAddressesForInputs(
		ctx, a.id, prevOuts,
	)
	if err != nil {
		return nil, err
	}
	if len(signers) != len(tx.TxIn) {
		return nil, fmt.Errorf("%w: %d signing addresses for %d inputs",
			ErrPreconditionViolation, len(signers), len(tx.TxIn))
	}

	for i, prevOut := range prevOuts {
		prevTx, err := a.cfg.Store.TxByHash(ctx, prevOut.Hash)
		if err != nil {
			return nil, fmt.Errorf("lookup input %d tx %v: %w", i,
				prevOut.Hash, err)
		}

		packet.Inputs[i].NonWitnessUtxo = prevTx.MsgTx.Copy()
		packet.Inputs[i].SighashType = txscript.SigHashAll
		packet.Inputs[i].Bip32Derivation = []*psbt.Bip32Derivation{
			derivation(&signers[i]),
		}
	}

	if unsigned.change != nil {
		packet.Outputs[unsigned.ChangeIndex].Bip32Derivation =
			[]*psbt.Bip32Derivation{derivation(unsigned.change)}
	}

	log.Debugf("HD account %d built unsigned tx %v with %d inputs", a.id,
		tx.TxHash(), len(tx.TxIn))

	return packet, nil
}

// derivation returns the PSBT derivation record of an account address. The
// master key fingerprint is left zero since only the account key may be
// known.
func derivation(addr *db.AddressInfo) *psbt.Bip32Derivation {
	return &psbt.Bip32Derivation{
		PubKey:    addr.PubKey,
		Bip32Path: keychain.Path(addr.Branch, addr.Index),
	}
}
