package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// AnswerStore implements domain.AnswerStore using PostgreSQL.
type AnswerStore struct {
	pool *pgxpool.Pool
}

var _ domain.AnswerStore = (*AnswerStore)(nil)

func NewAnswerStore(pool *pgxpool.Pool) *AnswerStore {
	return &AnswerStore{pool: pool}
}

// SaveAnswer records a resolution. Answers are immutable; a repeat write of
// the same question is ignored.
func (s *AnswerStore) SaveAnswer(ctx context.Context, questionID, answer common.Hash) error {
	const query = `INSERT INTO oracle_answers (question_id, answer) VALUES ($1, $2) ON CONFLICT (question_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, questionID.Hex(), answer.Hex()); err != nil {
		return fmt.Errorf("postgres: save answer %s: %w", questionID.Hex(), err)
	}
	return nil
}

func (s *AnswerStore) ListAnswers(ctx context.Context) (map[common.Hash]common.Hash, error) {
	rows, err := s.pool.Query(ctx, `SELECT question_id, answer FROM oracle_answers`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list answers: %w", err)
	}
	defer rows.Close()

	out := make(map[common.Hash]common.Hash)
	for rows.Next() {
		var q, a string
		if err := rows.Scan(&q, &a); err != nil {
			return nil, fmt.Errorf("postgres: scan answer: %w", err)
		}
		out[common.HexToHash(q)] = common.HexToHash(a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list answers rows: %w", err)
	}
	return out, nil
}
