// Package papers provides the academic-papers content surface consumed by
// guarded routes.
package papers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the paper does not exist.
var ErrNotFound = errors.New("papers: not found")

// Repository defines persistence for papers.
type Repository interface {
	List(ctx context.Context, limit, offset int) ([]Paper, error)
	Get(ctx context.Context, id int64) (*Paper, error)
	Create(ctx context.Context, paper Paper) (*Paper, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const paperColumns = `id, title, abstract, authors, keywords, file_url, uploaded_by, created_at, updated_at`

// List returns papers newest first.
func (r *PGRepository) List(ctx context.Context, limit, offset int) ([]Paper, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM academic_papers ORDER BY created_at DESC LIMIT $1 OFFSET $2`, paperColumns)
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("papers: list: %w", err)
	}
	defer rows.Close()

	var out []Paper
	for rows.Next() {
		paper, err := scanPaper(rows)
		if err != nil {
			return nil, fmt.Errorf("papers: scan: %w", err)
		}
		out = append(out, *paper)
	}
	return out, rows.Err()
}

// Get fetches a paper by id.
func (r *PGRepository) Get(ctx context.Context, id int64) (*Paper, error) {
	query := fmt.Sprintf(`SELECT %s FROM academic_papers WHERE id = $1`, paperColumns)
	paper, err := scanPaper(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("papers: get %d: %w", id, err)
	}
	return paper, nil
}

// Create inserts a paper and returns the stored row.
func (r *PGRepository) Create(ctx context.Context, paper Paper) (*Paper, error) {
	query := fmt.Sprintf(`
		INSERT INTO academic_papers (title, abstract, authors, keywords, file_url, uploaded_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING %s`, paperColumns)
	now := time.Now().UTC()
	stored, err := scanPaper(r.pool.QueryRow(ctx, query,
		paper.Title, paper.Abstract, paper.Authors, paper.Keywords, paper.FileURL, paper.UploadedBy, now))
	if err != nil {
		return nil, fmt.Errorf("papers: create: %w", err)
	}
	return stored, nil
}

func scanPaper(row pgx.Row) (*Paper, error) {
	var paper Paper
	err := row.Scan(
		&paper.ID,
		&paper.Title,
		&paper.Abstract,
		&paper.Authors,
		&paper.Keywords,
		&paper.FileURL,
		&paper.UploadedBy,
		&paper.CreatedAt,
		&paper.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &paper, nil
}

var _ Repository = (*PGRepository)(nil)
