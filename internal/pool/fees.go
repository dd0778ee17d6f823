package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// ComputeSplit divides the gross pool into the prize pool and the fee pool.
func ComputeSplit(gross *big.Int, creatorBps, protocolBps uint16) domain.FeeSplit {
	prizeBps := int64(BasisPoints) - int64(creatorBps) - int64(protocolBps)
	total := new(big.Int).Mul(gross, big.NewInt(prizeBps))
	total.Quo(total, big.NewInt(BasisPoints))
	return domain.FeeSplit{
		GrossPool:  new(big.Int).Set(gross),
		TotalPrize: total,
		FeePool:    new(big.Int).Sub(gross, total),
	}
}

// FeeManager holds the fee pool of one pool and releases it to the creator
// and the protocol treasury. Crediting and releasing are separate calls.
type FeeManager struct {
	address     common.Address
	creator     common.Address
	treasury    common.Address
	creatorBps  uint16
	protocolBps uint16
	ledger      domain.FeeLedger
	received    bool
}

func newFeeManager(address, creator, treasury common.Address, creatorBps, protocolBps uint16) *FeeManager {
	return &FeeManager{
		address:     address,
		creator:     creator,
		treasury:    treasury,
		creatorBps:  creatorBps,
		protocolBps: protocolBps,
		ledger: domain.FeeLedger{
			Balance:        new(big.Int),
			FeePool:        new(big.Int),
			CreatorReward:  new(big.Int),
			ProtocolReward: new(big.Int),
			CreatorPaid:    new(big.Int),
			ProtocolPaid:   new(big.Int),
		},
	}
}

func (m *FeeManager) Address() common.Address { return m.address }

// Ledger returns a copy of the counters.
func (m *FeeManager) Ledger() domain.FeeLedger {
	l := m.ledger
	l.Balance = new(big.Int).Set(m.ledger.Balance)
	l.FeePool = new(big.Int).Set(m.ledger.FeePool)
	l.CreatorReward = new(big.Int).Set(m.ledger.CreatorReward)
	l.ProtocolReward = new(big.Int).Set(m.ledger.ProtocolReward)
	l.CreatorPaid = new(big.Int).Set(m.ledger.CreatorPaid)
	l.ProtocolPaid = new(big.Int).Set(m.ledger.ProtocolPaid)
	return l
}

// receiveFeePool books the fee pool moved over on entering Submission.
func (m *FeeManager) receiveFeePool(feePool *big.Int) {
	m.ledger.FeePool = new(big.Int).Set(feePool)
	m.ledger.Balance.Add(m.ledger.Balance, feePool)
	m.received = true
}

// fund books value sent to the manager outside the fee pool.
func (m *FeeManager) fund(amount *big.Int) {
	m.ledger.Balance.Add(m.ledger.Balance, amount)
}

// DistributeRewards splits the fee pool between creator and protocol by
// their fee rates. It succeeds once.
func (m *FeeManager) DistributeRewards() (creator, protocol *big.Int, err error) {
	if !m.received {
		return nil, nil, domain.ErrResultsUnavailable
	}
	if m.ledger.RewardsDistributed {
		return nil, nil, domain.ErrAlreadyClaimed
	}
	creator = new(big.Int)
	if bps := int64(m.creatorBps) + int64(m.protocolBps); bps > 0 {
		creator.Mul(m.ledger.FeePool, big.NewInt(int64(m.creatorBps)))
		creator.Quo(creator, big.NewInt(bps))
	}
	protocol = new(big.Int).Sub(m.ledger.FeePool, creator)

	m.ledger.CreatorReward.Add(m.ledger.CreatorReward, creator)
	m.ledger.ProtocolReward.Add(m.ledger.ProtocolReward, protocol)
	m.ledger.RewardsDistributed = true
	return creator, protocol, nil
}

// Surplus is the balance not already owed to the fee pool or to unpaid rewards.
func (m *FeeManager) Surplus() *big.Int {
	s := new(big.Int).Set(m.ledger.Balance)
	if !m.ledger.RewardsDistributed {
		s.Sub(s, m.ledger.FeePool)
	}
	s.Sub(s, new(big.Int).Sub(m.ledger.CreatorReward, m.ledger.CreatorPaid))
	s.Sub(s, new(big.Int).Sub(m.ledger.ProtocolReward, m.ledger.ProtocolPaid))
	if s.Sign() < 0 {
		return new(big.Int)
	}
	return s
}

// DistributeSurplus credits the surplus evenly to both reward counters. It
// may be called any number of times; with no surplus it credits nothing.
func (m *FeeManager) DistributeSurplus() (creator, protocol *big.Int) {
	surplus := m.Surplus()
	creator = new(big.Int).Rsh(surplus, 1)
	protocol = new(big.Int).Sub(surplus, creator)
	m.ledger.CreatorReward.Add(m.ledger.CreatorReward, creator)
	m.ledger.ProtocolReward.Add(m.ledger.ProtocolReward, protocol)
	return creator, protocol
}

// ExecuteCreatorRewards pays the creator whatever has been credited but not
// released. It returns zero once drained.
func (m *FeeManager) ExecuteCreatorRewards(ctx context.Context, payer domain.Payer) (*big.Int, error) {
	return m.release(ctx, payer, m.creator, m.ledger.CreatorReward, m.ledger.CreatorPaid)
}

// ExecuteProtocolRewards pays the treasury whatever has been credited but not
// released. It returns zero once drained.
func (m *FeeManager) ExecuteProtocolRewards(ctx context.Context, payer domain.Payer) (*big.Int, error) {
	return m.release(ctx, payer, m.treasury, m.ledger.ProtocolReward, m.ledger.ProtocolPaid)
}

func (m *FeeManager) release(ctx context.Context, payer domain.Payer, to common.Address, reward, paid *big.Int) (*big.Int, error) {
	amount := new(big.Int).Sub(reward, paid)
	if amount.Sign() <= 0 {
		return new(big.Int), nil
	}
	paid.Add(paid, amount)
	m.ledger.Balance.Sub(m.ledger.Balance, amount)
	if err := payer.Send(ctx, m.address, to, amount); err != nil {
		paid.Sub(paid, amount)
		m.ledger.Balance.Add(m.ledger.Balance, amount)
		if errors.Is(err, domain.ErrTransferFailed) {
			return nil, fmt.Errorf("pool: release fees to %s: %w", to.Hex(), err)
		}
		return nil, fmt.Errorf("pool: release fees to %s: %w: %w", to.Hex(), domain.ErrTransferFailed, err)
	}
	return amount, nil
}

func (m *FeeManager) restore(l domain.FeeLedger, received bool) {
	m.ledger = domain.FeeLedger{
		Balance:            cloneOrZero(l.Balance),
		FeePool:            cloneOrZero(l.FeePool),
		CreatorReward:      cloneOrZero(l.CreatorReward),
		ProtocolReward:     cloneOrZero(l.ProtocolReward),
		CreatorPaid:        cloneOrZero(l.CreatorPaid),
		ProtocolPaid:       cloneOrZero(l.ProtocolPaid),
		RewardsDistributed: l.RewardsDistributed,
	}
	m.received = received
}

func cloneOrZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}
