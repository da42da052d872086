package account

import (
	"errors"

	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/btcsuite/hdaccount/internal/seedcrypt"
)

var (
	// ErrWrongPassword is returned when a stored secret fails its integrity
	// check under the supplied password.
	ErrWrongPassword = seedcrypt.ErrWrongPassword

	// ErrDuplicateAccount is returned when an account with the same chain
	// root public keys already exists.
	ErrDuplicateAccount = db.ErrDuplicateAccount

	// ErrNoPrivateKey is returned when an operation needs private key
	// material but the account is watch-only.
	ErrNoPrivateKey = errors.New("account has no private key")

	// ErrPreconditionViolation is returned when an engine invariant does
	// not hold. The operation is aborted and nothing is returned.
	ErrPreconditionViolation = errors.New("precondition violation")

	// ErrMissingStore is returned when a Config has no Store.
	ErrMissingStore = errors.New("missing account store")

	// ErrNoOutputs is returned when a transaction is requested without
	// outputs.
	ErrNoOutputs = errors.New("no transaction outputs")

	// ErrInvalidPage is returned when a transaction page below one is
	// requested.
	ErrInvalidPage = errors.New("page numbers start at 1")
)
