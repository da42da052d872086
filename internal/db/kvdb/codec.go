// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kvdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/lightningnetwork/lnd/tlv"
)

var (
	// errShortValue is returned when a stored value is shorter than its
	// fixed size header.
	errShortValue = errors.New("short value")
)

const (
	typeEncMnemonic  tlv.Type = 0
	typeEncHDSeed    tlv.Type = 2
	typeFirstAddress tlv.Type = 4
	typeAccountFlags tlv.Type = 6
	typeExternalXPub tlv.Type = 8
	typeInternalXPub tlv.Type = 10
	typeCreatedAt    tlv.Type = 12
)

const (
	flagFromSecureRandom uint8 = 1 << 0

	flagIssued uint8 = 1 << 0
	flagSynced uint8 = 1 << 1
)

// uint32Key returns the big endian encoding of v, which keeps keys ordered.
func uint32Key(v uint32) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], v)

	return k[:]
}

// addressKey is the key of an address row: account | branch | index.
func addressKey(accountID uint32, branch db.Branch, index uint32) []byte {
	k := make([]byte, 9)
	binary.BigEndian.PutUint32(k[0:4], accountID)
	k[4] = byte(branch)
	binary.BigEndian.PutUint32(k[5:9], index)

	return k
}

// branchPrefix is the key prefix of every address row of a branch.
func branchPrefix(accountID uint32, branch db.Branch) []byte {
	return addressKey(accountID, branch, 0)[:5]
}

// addrIndexKey maps an account address string back to its row.
func addrIndexKey(accountID uint32, address string) []byte {
	k := make([]byte, 4, 4+len(address))
	binary.BigEndian.PutUint32(k, accountID)

	return append(k, address...)
}

// xpubKey indexes accounts by their chain root public keys.
func xpubKey(externalXPub, internalXPub string) []byte {
	k := make([]byte, 0, len(externalXPub)+1+len(internalXPub))
	k = append(k, externalXPub...)
	k = append(k, 0)

	return append(k, internalXPub...)
}

// outPointKey is the canonical 36 byte encoding of an outpoint.
func outPointKey(op wire.OutPoint) []byte {
	k := make([]byte, 36)
	copy(k, op.Hash[:])
	binary.BigEndian.PutUint32(k[32:], op.Index)

	return k
}

// addrOutputPrefix is the prefix of every output paying to address. The
// address is length prefixed so that no address is a prefix of another.
func addrOutputPrefix(address string) []byte {
	k := make([]byte, 1, 1+len(address)+36)
	k[0] = byte(len(address))

	return append(k, address...)
}

// addrOutputKey is the key of one output paying to address.
func addrOutputKey(address string, op wire.OutPoint) []byte {
	return append(addrOutputPrefix(address), outPointKey(op)...)
}

// outPointFromKey decodes the trailing outpoint of an address output key.
func outPointFromKey(k []byte) (wire.OutPoint, error) {
	if len(k) < 36 {
		return wire.OutPoint{}, errShortValue
	}

	var op wire.OutPoint
	copy(op.Hash[:], k[len(k)-36:len(k)-4])
	op.Index = binary.BigEndian.Uint32(k[len(k)-4:])

	return op, nil
}

// encodeAccount serializes an account record as a tlv stream.
func encodeAccount(info *db.AccountInfo) ([]byte, error) {
	var flags uint8
	if info.IsFromSecureRandom {
		flags |= flagFromSecureRandom
	}

	var (
		encMnemonic = info.EncryptedMnemonicSeed
		encHDSeed   = info.EncryptedHDSeed
		first       = []byte(info.FirstAddress)
		ext         = []byte(info.ExternalXPub)
		internal    = []byte(info.InternalXPub)
		createdAt   = uint64(info.CreatedAt.UnixNano())
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeEncMnemonic, &encMnemonic),
		tlv.MakePrimitiveRecord(typeEncHDSeed, &encHDSeed),
		tlv.MakePrimitiveRecord(typeFirstAddress, &first),
		tlv.MakePrimitiveRecord(typeAccountFlags, &flags),
		tlv.MakePrimitiveRecord(typeExternalXPub, &ext),
		tlv.MakePrimitiveRecord(typeInternalXPub, &internal),
		tlv.MakePrimitiveRecord(typeCreatedAt, &createdAt),
	)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// decodeAccount reverses encodeAccount.
func decodeAccount(id uint32, v []byte) (*db.AccountInfo, error) {
	var (
		encMnemonic, encHDSeed, first, ext, internal []byte
		flags                                        uint8
		createdAt                                    uint64
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeEncMnemonic, &encMnemonic),
		tlv.MakePrimitiveRecord(typeEncHDSeed, &encHDSeed),
		tlv.MakePrimitiveRecord(typeFirstAddress, &first),
		tlv.MakePrimitiveRecord(typeAccountFlags, &flags),
		tlv.MakePrimitiveRecord(typeExternalXPub, &ext),
		tlv.MakePrimitiveRecord(typeInternalXPub, &internal),
		tlv.MakePrimitiveRecord(typeCreatedAt, &createdAt),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(v)); err != nil {
		return nil, db.NewError(db.ErrCorruptRecord,
			fmt.Sprintf("decode account %d", id), err)
	}

	info := &db.AccountInfo{
		ID:                 id,
		FirstAddress:       string(first),
		IsFromSecureRandom: flags&flagFromSecureRandom != 0,
		ExternalXPub:       string(ext),
		InternalXPub:       string(internal),
		CreatedAt:          time.Unix(0, int64(createdAt)),
	}
	if len(encMnemonic) > 0 {
		info.EncryptedMnemonicSeed = encMnemonic
	}
	if len(encHDSeed) > 0 {
		info.EncryptedHDSeed = encHDSeed
	}

	return info, nil
}

// encodeAddress serializes an address row:
//
//	flags (1) | pubkey length (1) | pubkey | address
func encodeAddress(addr *db.AddressInfo) []byte {
	var flags uint8
	if addr.Issued {
		flags |= flagIssued
	}
	if addr.SyncComplete {
		flags |= flagSynced
	}

	v := make([]byte, 0, 2+len(addr.PubKey)+len(addr.Address))
	v = append(v, flags, byte(len(addr.PubKey)))
	v = append(v, addr.PubKey...)

	return append(v, addr.Address...)
}

// decodeAddress reverses encodeAddress for the row stored under k.
func decodeAddress(k, v []byte) (*db.AddressInfo, error) {
	if len(k) != 9 || len(v) < 2 || len(v) < 2+int(v[1]) {
		return nil, db.NewError(db.ErrCorruptRecord, "decode address",
			errShortValue)
	}

	pubLen := int(v[1])
	addr := &db.AddressInfo{
		AccountID:    binary.BigEndian.Uint32(k[0:4]),
		Branch:       db.Branch(k[4]),
		Index:        binary.BigEndian.Uint32(k[5:9]),
		PubKey:       append([]byte(nil), v[2:2+pubLen]...),
		Address:      string(v[2+pubLen:]),
		Issued:       v[0]&flagIssued != 0,
		SyncComplete: v[0]&flagSynced != 0,
	}

	return addr, nil
}

// txHeaderSize is the fixed size prefix of a tx value:
//
//	height (4) | block hash (32) | block time (8) | received (8)
const txHeaderSize = 4 + 32 + 8 + 8

// encodeTx serializes a transaction record with its block.
func encodeTx(tx *db.TxDetails, raw []byte) []byte {
	v := make([]byte, txHeaderSize, txHeaderSize+len(raw))
	binary.BigEndian.PutUint32(v[0:4], uint32(tx.Block.Height))
	copy(v[4:36], tx.Block.Hash[:])
	if !tx.Block.Time.IsZero() {
		binary.BigEndian.PutUint64(v[36:44],
			uint64(tx.Block.Time.UnixNano()))
	}
	binary.BigEndian.PutUint64(v[44:52], uint64(tx.Received.UnixNano()))

	return append(v, raw...)
}

// decodeTx reverses encodeTx.
func decodeTx(hash chainhash.Hash, v []byte) (*db.TxDetails, error) {
	if len(v) < txHeaderSize {
		return nil, db.NewError(db.ErrCorruptRecord,
			fmt.Sprintf("decode tx %v", hash), errShortValue)
	}

	received := time.Unix(0, int64(binary.BigEndian.Uint64(v[44:52])))
	raw := append([]byte(nil), v[txHeaderSize:]...)

	rec, err := wtxmgr.NewTxRecord(raw, received)
	if err != nil {
		return nil, db.NewError(db.ErrCorruptRecord,
			fmt.Sprintf("decode tx %v", hash), err)
	}

	details := &db.TxDetails{TxRecord: *rec}
	details.Block.Height = int32(binary.BigEndian.Uint32(v[0:4]))
	copy(details.Block.Hash[:], v[4:36])
	if blockTime := int64(binary.BigEndian.Uint64(v[36:44])); blockTime != 0 {
		details.Block.Time = time.Unix(0, blockTime)
	}

	return details, nil
}

// encodeOutput serializes an output row as value (8) | pkScript.
func encodeOutput(txOut *wire.TxOut) []byte {
	v := make([]byte, 8, 8+len(txOut.PkScript))
	binary.BigEndian.PutUint64(v, uint64(txOut.Value))

	return append(v, txOut.PkScript...)
}

// decodeOutput reverses encodeOutput.
func decodeOutput(v []byte) (int64, []byte, error) {
	if len(v) < 8 {
		return 0, nil, errShortValue
	}

	return int64(binary.BigEndian.Uint64(v[:8])),
		append([]byte(nil), v[8:]...), nil
}
