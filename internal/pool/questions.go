package pool

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// ContentHash hashes the template id, opening time and text of a question.
func ContentHash(templateID uint32, openingTime uint32, text string) common.Hash {
	var head [8]byte
	binary.BigEndian.PutUint32(head[:4], templateID)
	binary.BigEndian.PutUint32(head[4:], openingTime)
	return crypto.Keccak256Hash(head[:], []byte(text))
}

// QuestionID derives the oracle handle of a question asked by pool under the
// given arbitration parameters.
func QuestionID(q domain.Question, arb domain.Arbitration, pool common.Address) common.Hash {
	content := ContentHash(q.TemplateID, q.OpeningTime, q.Text)

	var timeout [4]byte
	binary.BigEndian.PutUint32(timeout[:], arb.Timeout)

	bond := new(big.Int)
	if arb.MinBond != nil {
		bond = arb.MinBond
	}
	return crypto.Keccak256Hash(
		content.Bytes(),
		arb.Arbitrator.Bytes(),
		timeout[:],
		common.LeftPadBytes(bond.Bytes(), 32),
		arb.Resolver.Bytes(),
		pool.Bytes(),
	)
}

// QuestionSet is the immutable, id-ordered list of questions a pool scores
// against. Answers are cached once every question is finalized.
type QuestionSet struct {
	questions []domain.Question
	answers   []common.Hash
}

// NewQuestionSet derives the id of every question and requires the supplied
// order to be strictly ascending by id.
func NewQuestionSet(qs []domain.Question, arb domain.Arbitration, pool common.Address) (*QuestionSet, error) {
	if len(qs) == 0 {
		return nil, fmt.Errorf("pool: no questions: %w", domain.ErrInvalidPoolParams)
	}
	out := make([]domain.Question, len(qs))
	for i, q := range qs {
		q.ID = QuestionID(q, arb, pool)
		if i > 0 && bytes.Compare(out[i-1].ID[:], q.ID[:]) >= 0 {
			return nil, fmt.Errorf("pool: question %d id %s: %w", i, q.ID.Hex(), domain.ErrQuestionsNotSorted)
		}
		out[i] = q
	}
	return &QuestionSet{questions: out}, nil
}

// SortQuestions orders questions by derived id, the order pool creation
// requires.
func SortQuestions(qs []domain.Question, arb domain.Arbitration, pool common.Address) []domain.Question {
	out := make([]domain.Question, len(qs))
	for i, q := range qs {
		q.ID = QuestionID(q, arb, pool)
		out[i] = q
	}
	slices.SortFunc(out, func(a, b domain.Question) int {
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return out
}

func (s *QuestionSet) Len() int { return len(s.questions) }

// Questions returns a copy of the questions in id order.
func (s *QuestionSet) Questions() []domain.Question {
	out := make([]domain.Question, len(s.questions))
	copy(out, s.questions)
	return out
}

// Known reports whether answers have been cached.
func (s *QuestionSet) Known() bool { return s.answers != nil }

// Finalized reports whether every question is finalized, fetching and
// caching the answers the first time it is.
func (s *QuestionSet) Finalized(ctx context.Context, o domain.Oracle) (bool, error) {
	if s.answers != nil {
		return true, nil
	}
	for _, q := range s.questions {
		ok, err := o.IsFinalized(ctx, q.ID)
		if err != nil {
			return false, fmt.Errorf("pool: oracle finalized %s: %w", q.ID.Hex(), err)
		}
		if !ok {
			return false, nil
		}
	}
	answers := make([]common.Hash, len(s.questions))
	for i, q := range s.questions {
		a, err := o.ResultFor(ctx, q.ID)
		if err != nil {
			return false, fmt.Errorf("pool: oracle result %s: %w", q.ID.Hex(), err)
		}
		answers[i] = a
	}
	s.answers = answers
	return true, nil
}

// Answers returns the resolved answers or ErrResultsUnavailable.
func (s *QuestionSet) Answers(ctx context.Context, o domain.Oracle) ([]common.Hash, error) {
	ok, err := s.Finalized(ctx, o)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrResultsUnavailable
	}
	return s.answers, nil
}

// cachedAnswers returns a copy of the cached answers, or nil.
func (s *QuestionSet) cachedAnswers() []common.Hash {
	if s.answers == nil {
		return nil
	}
	out := make([]common.Hash, len(s.answers))
	copy(out, s.answers)
	return out
}

func (s *QuestionSet) restoreAnswers(answers []common.Hash) error {
	if answers == nil {
		return nil
	}
	if len(answers) != len(s.questions) {
		return fmt.Errorf("pool: restore %d answers for %d questions: %w",
			len(answers), len(s.questions), domain.ErrInvalidPoolParams)
	}
	s.answers = append([]common.Hash(nil), answers...)
	return nil
}
