package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// TryAdvance moves the pool as far forward as time and the oracle allow.
func (s *PoolService) TryAdvance(ctx context.Context, addr common.Address) (domain.PoolState, error) {
	var state domain.PoolState
	err := s.mutate(ctx, addr, "try_advance", func(m *managed) error {
		var err error
		state, err = m.pool.TryAdvance(ctx)
		return err
	})
	return state, err
}

func (s *PoolService) PlaceBet(ctx context.Context, addr, owner common.Address, predictions []common.Hash, payment *big.Int, referrer common.Address) (uint64, error) {
	var id uint64
	err := s.mutate(ctx, addr, "place_bet", func(m *managed) error {
		var err error
		id, err = m.pool.PlaceBet(ctx, owner, predictions, payment, referrer)
		return err
	})
	return id, err
}

func (s *PoolService) Fund(ctx context.Context, addr, from common.Address, amount *big.Int) error {
	return s.mutate(ctx, addr, "fund", func(m *managed) error {
		return m.pool.Fund(ctx, from, amount)
	})
}

func (s *PoolService) FundManager(ctx context.Context, addr, from common.Address, amount *big.Int) error {
	return s.mutate(ctx, addr, "fund_manager", func(m *managed) error {
		return m.pool.FundManager(ctx, from, amount)
	})
}

// TransferBet moves a bet token between accounts. Prizes follow the token.
func (s *PoolService) TransferBet(ctx context.Context, addr common.Address, tokenID uint64, from, to common.Address) error {
	return s.mutate(ctx, addr, "transfer_bet", func(m *managed) error {
		if err := m.custody.Transfer(ctx, tokenID, from, to); err != nil {
			return err
		}
		// Ownership lives in custody, so persist without a pool event.
		_, err := s.commit(ctx, m, nil)
		return err
	})
}

func (s *PoolService) Score(ctx context.Context, addr common.Address, tokenID uint64) (uint32, error) {
	var score uint32
	err := s.view(addr, func(m *managed) error {
		var err error
		score, err = m.pool.Score(ctx, tokenID)
		return err
	})
	return score, err
}

// RegisterPoints applies one ranking insertion; false means the submission
// was valid but changed nothing.
func (s *PoolService) RegisterPoints(ctx context.Context, addr common.Address, tokenID uint64, targetIndex, duplicateOffset int) (bool, error) {
	var inserted bool
	err := s.mutate(ctx, addr, "register_points", func(m *managed) error {
		var err error
		inserted, err = m.pool.RegisterPoints(ctx, tokenID, targetIndex, duplicateOffset)
		return err
	})
	if err == nil && !inserted && s.deps.Metrics != nil {
		s.deps.Metrics.RecordSubmission("noop")
	}
	if err != nil && domain.Classify(err) == domain.ClassInvariant && s.deps.Metrics != nil {
		s.deps.Metrics.RecordSubmission("rejected")
	}
	return inserted, err
}

func (s *PoolService) RegisterAll(ctx context.Context, addr common.Address, candidates []domain.RankCandidate) (int, error) {
	var n int
	err := s.mutate(ctx, addr, "register_all", func(m *managed) error {
		var err error
		n, err = m.pool.RegisterAll(ctx, candidates)
		return err
	})
	return n, err
}

// Plan returns the insertions that bring the ranking up to date.
func (s *PoolService) Plan(ctx context.Context, addr common.Address) ([]domain.RankCandidate, error) {
	var plan []domain.RankCandidate
	err := s.view(addr, func(m *managed) error {
		var err error
		plan, err = m.pool.Plan(ctx)
		return err
	})
	return plan, err
}

// SubmitPlan plans and registers in one step under the pool lock, so the
// plan cannot go stale between the two.
func (s *PoolService) SubmitPlan(ctx context.Context, addr common.Address) (int, error) {
	var n int
	err := s.mutate(ctx, addr, "submit_plan", func(m *managed) error {
		if _, err := m.pool.TryAdvance(ctx); err != nil {
			return err
		}
		if m.pool.State() != domain.StateSubmission {
			return domain.ErrResultsUnavailable
		}
		plan, err := m.pool.Plan(ctx)
		if err != nil {
			return err
		}
		if len(plan) == 0 {
			return nil
		}
		n, err = m.pool.RegisterAll(ctx, plan)
		return err
	})
	return n, err
}

func (s *PoolService) ClaimRewards(ctx context.Context, addr common.Address, rankIndex, first, last int) (*big.Int, error) {
	var amount *big.Int
	err := s.mutate(ctx, addr, "claim_rewards", func(m *managed) error {
		var err error
		amount, err = m.pool.ClaimRewards(ctx, rankIndex, first, last)
		return err
	})
	return amount, err
}

func (s *PoolService) ReimbursePlayer(ctx context.Context, addr common.Address, tokenID uint64) (*big.Int, error) {
	var amount *big.Int
	err := s.mutate(ctx, addr, "reimburse_player", func(m *managed) error {
		var err error
		amount, err = m.pool.ReimbursePlayer(ctx, tokenID)
		return err
	})
	return amount, err
}

func (s *PoolService) DistributeRemainingPrizes(ctx context.Context, addr common.Address) (*big.Int, error) {
	var amount *big.Int
	err := s.mutate(ctx, addr, "distribute_remaining", func(m *managed) error {
		var err error
		amount, err = m.pool.DistributeRemainingPrizes(ctx)
		return err
	})
	return amount, err
}

func (s *PoolService) WithdrawOwed(ctx context.Context, addr, account common.Address) (*big.Int, error) {
	var amount *big.Int
	err := s.mutate(ctx, addr, "withdraw_owed", func(m *managed) error {
		var err error
		amount, err = m.pool.WithdrawOwed(ctx, account)
		return err
	})
	return amount, err
}

func (s *PoolService) DistributeFeeRewards(ctx context.Context, addr common.Address) error {
	return s.mutate(ctx, addr, "distribute_fee_rewards", func(m *managed) error {
		return m.pool.DistributeFeeRewards(ctx)
	})
}

func (s *PoolService) DistributeSurplus(ctx context.Context, addr common.Address) (*big.Int, error) {
	var amount *big.Int
	err := s.mutate(ctx, addr, "distribute_surplus", func(m *managed) error {
		var err error
		amount, err = m.pool.DistributeSurplus(ctx)
		return err
	})
	return amount, err
}

func (s *PoolService) ExecuteCreatorRewards(ctx context.Context, addr common.Address) (*big.Int, error) {
	var amount *big.Int
	err := s.mutate(ctx, addr, "execute_creator_rewards", func(m *managed) error {
		var err error
		amount, err = m.pool.ExecuteCreatorRewards(ctx)
		return err
	})
	return amount, err
}

func (s *PoolService) ExecuteProtocolRewards(ctx context.Context, addr common.Address) (*big.Int, error) {
	var amount *big.Int
	err := s.mutate(ctx, addr, "execute_protocol_rewards", func(m *managed) error {
		var err error
		amount, err = m.pool.ExecuteProtocolRewards(ctx)
		return err
	})
	return amount, err
}

// Settled reports whether nothing is left to pay out.
func (s *PoolService) Settled(addr common.Address) (bool, error) {
	var settled bool
	err := s.view(addr, func(m *managed) error {
		settled = m.pool.Settled()
		return nil
	})
	return settled, err
}

// Resolve finalizes a question and advances the pools that ask it. Returns
// the pools whose state changed.
func (s *PoolService) Resolve(ctx context.Context, questionID, answer common.Hash) ([]common.Address, error) {
	if err := s.deps.Oracle.Resolve(ctx, questionID, answer); err != nil {
		return nil, fmt.Errorf("pool_service: resolve %s: %w", questionID.Hex(), err)
	}
	if err := s.deps.Answers.SaveAnswer(ctx, questionID, answer); err != nil {
		return nil, fmt.Errorf("pool_service: save answer %s: %w", questionID.Hex(), err)
	}

	var advanced []common.Address
	for _, addr := range s.Addresses() {
		var asks bool
		var before domain.PoolState
		_ = s.view(addr, func(m *managed) error {
			before = m.pool.State()
			for _, q := range m.pool.Params().Questions {
				if q.ID == questionID {
					asks = true
					break
				}
			}
			return nil
		})
		if !asks {
			continue
		}
		after, err := s.TryAdvance(ctx, addr)
		if err != nil {
			s.logger.WarnContext(ctx, "advance after resolve failed",
				slog.String("pool", addr.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if after != before {
			advanced = append(advanced, addr)
		}
	}
	s.logger.InfoContext(ctx, "question resolved",
		slog.String("question", questionID.Hex()),
		slog.String("answer", answer.Hex()),
		slog.Int("advanced", len(advanced)),
	)
	return advanced, nil
}
