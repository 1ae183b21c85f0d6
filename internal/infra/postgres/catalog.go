package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"quiz-duel-service/internal/domain"
)

// CatalogLoader reads the question bank from Postgres.
type CatalogLoader struct {
	pool *pgxpool.Pool
}

func NewCatalogLoader(pool *pgxpool.Pool) *CatalogLoader {
	return &CatalogLoader{pool: pool}
}

const questionColumns = `id, subject, category, difficulty, prompt, options, correct_option`

// FetchPool returns a random sample of questions matching filter.
func (l *CatalogLoader) FetchPool(ctx context.Context, filter domain.PoolFilter) ([]domain.Question, error) {
	query, args := poolQuery(filter)
	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch pool %s: %w", filter.Key(), err)
	}
	defer rows.Close()

	var pool []domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		pool = append(pool, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch pool %s: %w", filter.Key(), err)
	}
	return pool, nil
}

func (l *CatalogLoader) Question(ctx context.Context, id string) (domain.Question, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id=$1`, id)
	q, err := scanQuestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, err
}

func poolQuery(filter domain.PoolFilter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if s := strings.TrimSpace(filter.Subject); s != "" && !strings.EqualFold(s, domain.AnySubject) {
		args = append(args, strings.ToLower(s))
		where = append(where, fmt.Sprintf("lower(subject)=$%d", len(args)))
	}
	if filter.Difficulty != "" {
		args = append(args, string(filter.Difficulty))
		where = append(where, fmt.Sprintf("difficulty=$%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		where = append(where, fmt.Sprintf("category=$%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + questionColumns + ` FROM questions`)
	if len(where) > 0 {
		b.WriteString(` WHERE ` + strings.Join(where, " AND "))
	}
	b.WriteString(` ORDER BY random()`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}
	return b.String(), args
}

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var (
		q          domain.Question
		category   string
		difficulty string
		options    []byte
	)
	if err := row.Scan(&q.ID, &q.Subject, &category, &difficulty, &q.Prompt, &options, &q.CorrectOption); err != nil {
		return domain.Question{}, err
	}
	q.Category = domain.Category(category)
	q.Difficulty = domain.Difficulty(difficulty)
	q.CorrectOption = strings.TrimSpace(q.CorrectOption)
	if err := json.Unmarshal(options, &q.Options); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal options for %s: %w", q.ID, err)
	}
	return q, nil
}
