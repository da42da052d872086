package account

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/stretchr/testify/mock"
)

// mockStore is a mock implementation of db.Store.
type mockStore struct {
	mock.Mock
}

// A compile time check to ensure that mockStore implements db.Store.
var _ db.Store = (*mockStore)(nil)

func (m *mockStore) CreateAccount(ctx context.Context,
	params db.CreateAccountParams) (*db.AccountInfo, error) {

	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*db.AccountInfo), args.Error(1)
}

func (m *mockStore) GetAccount(ctx context.Context,
	accountID uint32) (*db.AccountInfo, error) {

	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*db.AccountInfo), args.Error(1)
}

func (m *mockStore) ListAccounts(ctx context.Context) ([]db.AccountInfo,
	error) {

	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]db.AccountInfo), args.Error(1)
}

func (m *mockStore) PubKeysExist(ctx context.Context, externalXPub,
	internalXPub string) (bool, error) {

	args := m.Called(ctx, externalXPub, internalXPub)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) AddAddresses(ctx context.Context,
	addrs []db.AddressInfo) error {

	args := m.Called(ctx, addrs)
	return args.Error(0)
}

func (m *mockStore) AddressCount(ctx context.Context, accountID uint32,
	branch db.Branch) (uint32, error) {

	args := m.Called(ctx, accountID, branch)
	return args.Get(0).(uint32), args.Error(1)
}

func (m *mockStore) IssuedIndex(ctx context.Context, accountID uint32,
	branch db.Branch) (int32, error) {

	args := m.Called(ctx, accountID, branch)
	return args.Get(0).(int32), args.Error(1)
}

func (m *mockStore) UpdateIssuedIndex(ctx context.Context,
	params db.UpdateIssuedIndexParams) error {

	args := m.Called(ctx, params)
	return args.Error(0)
}

func (m *mockStore) AddressForIndex(ctx context.Context, accountID uint32,
	branch db.Branch, index uint32) (*db.AddressInfo, error) {

	args := m.Called(ctx, accountID, branch, index)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*db.AddressInfo), args.Error(1)
}

func (m *mockStore) LastUsedIndex(ctx context.Context, accountID uint32,
	branch db.Branch) (int32, error) {

	args := m.Called(ctx, accountID, branch)
	return args.Get(0).(int32), args.Error(1)
}

func (m *mockStore) BelongAccount(ctx context.Context, accountID uint32,
	addrs []string) ([]db.AddressInfo, error) {

	args := m.Called(ctx, accountID, addrs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]db.AddressInfo), args.Error(1)
}

func (m *mockStore) PubKeys(ctx context.Context, accountID uint32,
	branch db.Branch) ([][]byte, error) {

	args := m.Called(ctx, accountID, branch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([][]byte), args.Error(1)
}

func (m *mockStore) MarkSyncComplete(ctx context.Context, accountID uint32,
	address string) error {

	args := m.Called(ctx, accountID, address)
	return args.Error(0)
}

func (m *mockStore) UnsyncedAddressCount(ctx context.Context,
	accountID uint32) (uint32, error) {

	args := m.Called(ctx, accountID)
	return args.Get(0).(uint32), args.Error(1)
}

func (m *mockStore) SigningAddressesForInputs(ctx context.Context,
	accountID uint32, inputs []wire.OutPoint) ([]db.AddressInfo, error) {

	args := m.Called(ctx, accountID, inputs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]db.AddressInfo), args.Error(1)
}

func (m *mockStore) AddTxs(ctx context.Context, txs []db.TxDetails) error {
	args := m.Called(ctx, txs)
	return args.Error(0)
}

func (m *mockStore) TxByHash(ctx context.Context,
	hash chainhash.Hash) (*db.TxDetails, error) {

	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*db.TxDetails), args.Error(1)
}

func (m *mockStore) UnconfirmedTxs(ctx context.Context,
	accountID uint32) ([]db.TxDetails, error) {

	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]db.TxDetails), args.Error(1)
}

func (m *mockStore) ListTxs(ctx context.Context,
	query db.ListTxsQuery) ([]db.TxDetails, error) {

	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]db.TxDetails), args.Error(1)
}

func (m *mockStore) TxCount(ctx context.Context, accountID uint32) (uint32,
	error) {

	args := m.Called(ctx, accountID)
	return args.Get(0).(uint32), args.Error(1)
}

func (m *mockStore) ConfirmedBalance(ctx context.Context,
	accountID uint32) (btcutil.Amount, error) {

	args := m.Called(ctx, accountID)
	return args.Get(0).(btcutil.Amount), args.Error(1)
}

func (m *mockStore) UnspentOutputs(ctx context.Context,
	query db.CreditQuery) ([]db.Credit, error) {

	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]db.Credit), args.Error(1)
}

func (m *mockStore) UnconfirmedSpentOutputs(ctx context.Context,
	query db.CreditQuery) ([]db.Credit, error) {

	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]db.Credit), args.Error(1)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// mockNotifier is a mock implementation of Notifier.
type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyTx(placeholder string, tx *db.TxDetails,
	typ NotificationType, delta btcutil.Amount) {

	m.Called(placeholder, tx, typ, delta)
}
