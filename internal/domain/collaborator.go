package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Oracle resolves questions. The engine only reads from it.
type Oracle interface {
	IsFinalized(ctx context.Context, questionID common.Hash) (bool, error)
	ResultFor(ctx context.Context, questionID common.Hash) (common.Hash, error)
}

// TokenCustody owns the bet tokens of one pool. Mint assigns dense ids
// starting at zero. OwnerOf returns ErrNotFound for burned or unknown tokens.
type TokenCustody interface {
	Mint(ctx context.Context, owner common.Address) (uint64, error)
	OwnerOf(ctx context.Context, tokenID uint64) (common.Address, error)
	Burn(ctx context.Context, tokenID uint64) error
}

// Payer is the value-transfer host. Collect records value attached to a call
// by an external account. Send moves value out of a pool or fee manager
// account; each call reports its own success or failure.
type Payer interface {
	Collect(ctx context.Context, from, to common.Address, amount *big.Int) error
	Send(ctx context.Context, from, to common.Address, amount *big.Int) error
}
