package pool

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// BasisPoints is the denominator of prize weights and fee rates.
const BasisPoints = 10000

// PrizeSchedule assigns basis-point weights to ranked positions.
type PrizeSchedule struct {
	weights []uint16
}

// NewPrizeSchedule requires a non-empty weight list that sums to BasisPoints.
func NewPrizeSchedule(weights []uint16) (*PrizeSchedule, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("pool: empty prize weights: %w", domain.ErrInvalidPrizeWeights)
	}
	var sum int
	for _, w := range weights {
		sum += int(w)
	}
	if sum != BasisPoints {
		return nil, fmt.Errorf("pool: prize weights sum to %d: %w", sum, domain.ErrInvalidPrizeWeights)
	}
	return &PrizeSchedule{weights: append([]uint16(nil), weights...)}, nil
}

// Slots is the number of guaranteed prize positions.
func (p *PrizeSchedule) Slots() int { return len(p.weights) }

// Weights returns a copy of the schedule.
func (p *PrizeSchedule) Weights() []uint16 { return append([]uint16(nil), p.weights...) }

// WeightSum sums weights[first..=last]; positions past the schedule add zero.
func (p *PrizeSchedule) WeightSum(first, last int) int64 {
	var sum int64
	for i := max(first, 0); i <= last && i < len(p.weights); i++ {
		sum += int64(p.weights[i])
	}
	return sum
}

// VacantWeight sums the weight of every slot at or after filled.
func (p *PrizeSchedule) VacantWeight(filled int) int64 {
	return p.WeightSum(filled, len(p.weights)-1)
}

// TieShare is what each member of a tie group spanning [first, last] earns.
func (p *PrizeSchedule) TieShare(totalPrize *big.Int, first, last int) *big.Int {
	return shareOf(totalPrize, p.WeightSum(first, last), last-first+1)
}

// shareOf computes totalPrize * weight / (BasisPoints * members).
func shareOf(totalPrize *big.Int, weight int64, members int) *big.Int {
	if members <= 0 || weight == 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(totalPrize, big.NewInt(weight))
	den := big.NewInt(int64(BasisPoints) * int64(members))
	return num.Quo(num, den)
}
