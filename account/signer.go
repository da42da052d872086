package account

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/btcsuite/hdaccount/internal/keychain"
)

// signingKeys derives the private keys of one signing pass. The account and
// chain root keys are derived once; leaf keys are cached by address.
type signingKeys struct {
	accountKey *hdkeychain.ExtendedKey
	roots      map[db.Branch]*hdkeychain.ExtendedKey
	leaves     map[string]*btcec.PrivateKey

	onLeaf func(branch db.Branch, index uint32)
}

// newSigningKeys derives the private account key and both chain roots.
func (a *HDAccount) newSigningKeys(ctx context.Context,
	password []byte) (*signingKeys, error) {

	accountKey, err := a.accountKey(ctx, password)
	if err != nil {
		return nil, err
	}

	keys := &signingKeys{
		accountKey: accountKey,
		roots:      make(map[db.Branch]*hdkeychain.ExtendedKey, 2),
		leaves:     make(map[string]*btcec.PrivateKey),
		onLeaf:     a.hooks.leaf,
	}

	for _, branch := range []db.Branch{db.External, db.Internal} {
		root, err := keychain.ChainRoot(accountKey, branch)
		if err != nil {
			keys.wipe()
			return nil, err
		}
		keys.roots[branch] = root
	}

	if a.hooks.signingKeys != nil {
		a.hooks.signingKeys(keys)
	}

	return keys, nil
}

// key returns the private key of addr, deriving it on first use.
func (k *signingKeys) key(addr *db.AddressInfo) (*btcec.PrivateKey, error) {
	if priv, ok := k.leaves[addr.Address]; ok {
		return priv, nil
	}

	root, ok := k.roots[addr.Branch]
	if !ok {
		return nil, fmt.Errorf("%w: %v", keychain.ErrUnknownBranch,
			addr.Branch)
	}

	leaf, err := keychain.Leaf(root, addr.Index)
	if err != nil {
		return nil, err
	}
	defer leaf.Zero()

	priv, err := keychain.PrivKey(leaf)
	if err != nil {
		return nil, err
	}
	k.leaves[addr.Address] = priv

	if k.onLeaf != nil {
		k.onLeaf(addr.Branch, addr.Index)
	}

	return priv, nil
}

// wipe zeroes every key of the pass.
func (k *signingKeys) wipe() {
	for _, priv := range k.leaves {
		priv.Zero()
	}
	for _, root := range k.roots {
		keychain.Wipe(root)
	}
	keychain.Wipe(k.accountKey)
}

// signTx adds a P2PKH unlocking script to every input of tx and then
// verifies the finished transaction. Any inconsistency found on the way is
// a precondition violation and no signature is left on the transaction.
func (a *HDAccount) signTx(ctx context.Context, tx *txauthor.AuthoredTx,
	password []byte) error {

	msgTx := tx.Tx

	prevOuts := make([]wire.OutPoint, 0, len(msgTx.TxIn))
	for _, txIn := range msgTx.TxIn {
		prevOuts = append(prevOuts, txIn.PreviousOutPoint)
	}

	signers, err := a.cfg.Store.SigningAddressesForInputs(
		ctx, a.id, prevOuts,
	)
	if err != nil {
		return err
	}
	if len(signers) != len(msgTx.TxIn) ||
		len(tx.PrevScripts) != len(msgTx.TxIn) {

		return fmt.Errorf("%w: %d signing addresses and %d previous "+
			"scripts for %d inputs", ErrPreconditionViolation,
			len(signers), len(tx.PrevScripts), len(msgTx.TxIn))
	}

	keys, err := a.newSigningKeys(ctx, password)
	if err != nil {
		return err
	}
	defer keys.wipe()

	err = a.addInputScripts(msgTx, tx.PrevScripts, signers, keys)
	if err == nil {
		err = validateMsgTx(msgTx, tx.PrevScripts, tx.PrevInputValues)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrPreconditionViolation, err)
		}
	}
	if err != nil {
		for _, txIn := range msgTx.TxIn {
			txIn.SignatureScript = nil
		}

		return err
	}

	return nil
}

// addInputScripts signs every input with SIGHASH_ALL and sets its unlocking
// script to <sig> <pubkey>.
func (a *HDAccount) addInputScripts(msgTx *wire.MsgTx, prevScripts [][]byte,
	signers []db.AddressInfo, keys *signingKeys) error {

	for i := range msgTx.TxIn {
		priv, err := keys.key(&signers[i])
		if err != nil {
			return err
		}

		sig, err := txscript.RawTxInSignature(
			msgTx, i, prevScripts[i], txscript.SigHashAll, priv,
		)
		if err != nil {
			return fmt.Errorf("sign input %d: %w", i, err)
		}

		script, err := txscript.NewScriptBuilder().
			AddData(sig).
			AddData(priv.PubKey().SerializeCompressed()).
			Script()
		if err != nil {
			return err
		}

		msgTx.TxIn[i].SignatureScript = script
	}

	return nil
}

// validateMsgTx verifies transaction input scripts for tx. All previous
// output scripts from outputs redeemed by the transaction, in the same order
// they are spent, must be passed in the prevScripts slice.
func validateMsgTx(tx *wire.MsgTx, prevScripts [][]byte,
	inputValues []btcutil.Amount) error {

	inputFetcher, err := txauthor.TXPrevOutFetcher(
		tx, prevScripts, inputValues,
	)
	if err != nil {
		return err
	}

	hashCache := txscript.NewTxSigHashes(tx, inputFetcher)
	for i, prevScript := range prevScripts {
		vm, err := txscript.NewEngine(
			prevScript, tx, i, txscript.StandardVerifyFlags, nil,
			hashCache, int64(inputValues[i]), inputFetcher,
		)
		if err != nil {
			return fmt.Errorf("cannot create script engine: %w", err)
		}
		if err := vm.Execute(); err != nil {
			return fmt.Errorf("cannot validate transaction: %w", err)
		}
	}

	return nil
}
