package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creatorscout/searchjobs/pkg/store"
	"github.com/creatorscout/searchjobs/pkg/types"
)

const uniqueViolation = "23505"

const jobColumns = `id, user_id, campaign_id, platform, search_mode, keywords, target_username,
	provider_override, target_results, processed_results, run_count, next_cursor, status,
	error, message, provider, version, timeout_at, created_at, started_at, completed_at, updated_at`

const campaignColumns = `id, user_id, name, search_mode, target_results, notified, notified_at, created_at`

// Store implements store.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New wraps an open pool. The store closes the pool on Close.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) CreateJob(ctx context.Context, job *types.Job) error {
	if job.Version == 0 {
		job.Version = 1
	}
	keywords := job.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scraping_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		job.ID, job.UserID, job.CampaignID, string(job.Platform), string(job.SearchMode), keywords, job.TargetUsername,
		job.ProviderOverride, job.TargetResults, job.ProcessedResults, job.RunCount, job.Cursor, string(job.Status),
		job.Error, job.Message, job.Provider, job.Version, job.TimeoutAt, job.CreatedAt, job.StartedAt, job.CompletedAt, job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("job %s: %w", job.ID, store.ErrAlreadyExists)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*types.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM scraping_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *Store) ListCampaignJobs(ctx context.Context, campaignID string) ([]*types.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM scraping_jobs WHERE campaign_id = $1 ORDER BY created_at`, campaignID)
}

func (s *Store) ListUnfinishedJobs(ctx context.Context) ([]*types.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM scraping_jobs WHERE status IN ('pending', 'processing') ORDER BY created_at`)
}

func (s *Store) queryJobs(ctx context.Context, sql string, args ...any) ([]*types.Job, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) ListResultBatches(ctx context.Context, jobID string) ([]*types.ResultBatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, run_number, provider, creators, created_at
		FROM scraping_results WHERE job_id = $1
		ORDER BY run_number, created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query result batches: %w", err)
	}
	defer rows.Close()

	var batches []*types.ResultBatch
	for rows.Next() {
		var (
			b   types.ResultBatch
			raw []byte
		)
		if err := rows.Scan(&b.ID, &b.JobID, &b.RunNumber, &b.Provider, &raw, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result batch: %w", err)
		}
		if err := json.Unmarshal(raw, &b.Creators); err != nil {
			return nil, fmt.Errorf("decode creators of batch %s: %w", b.ID, err)
		}
		batches = append(batches, &b)
	}
	return batches, rows.Err()
}

// Commit is a version-guarded UPDATE plus the batch insert and usage upsert,
// all in one transaction.
func (s *Store) Commit(ctx context.Context, c store.Commit) (*types.Job, error) {
	if c.Job == nil {
		return nil, errors.New("commit without job")
	}
	next := store.NextVersion(c.Job)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE scraping_jobs SET
			processed_results = $3, run_count = $4, next_cursor = $5, status = $6,
			error = $7, message = $8, provider = $9, started_at = $10, completed_at = $11,
			updated_at = $12, version = version + 1
		WHERE id = $1 AND version = $2`,
		next.ID, c.Job.Version,
		next.ProcessedResults, next.RunCount, next.Cursor, string(next.Status),
		next.Error, next.Message, next.Provider, next.StartedAt, next.CompletedAt,
		next.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scraping_jobs WHERE id = $1)`, next.ID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check job: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("job %s: %w", next.ID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("job %s expected version %d: %w", next.ID, c.Job.Version, store.ErrConflict)
	}

	if c.Batch.Len() > 0 {
		creators, err := json.Marshal(c.Batch.Creators)
		if err != nil {
			return nil, fmt.Errorf("encode creators: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO scraping_results (id, job_id, run_number, provider, creators, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			c.Batch.ID, next.ID, c.Batch.RunNumber, c.Batch.Provider, creators, c.Batch.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("batch %s: %w", c.Batch.ID, store.ErrAlreadyExists)
			}
			return nil, fmt.Errorf("insert result batch: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO usage_counters (user_id, results_counted, batches_counted, updated_at)
			VALUES ($1, $2, 1, $3)
			ON CONFLICT (user_id) DO UPDATE SET
				results_counted = usage_counters.results_counted + EXCLUDED.results_counted,
				batches_counted = usage_counters.batches_counted + 1,
				updated_at = EXCLUDED.updated_at`,
			next.UserID, int64(c.Batch.Len()), next.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("increment usage: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit job %s: %w", next.ID, err)
	}
	return next, nil
}

func (s *Store) CreateCampaign(ctx context.Context, campaign *types.Campaign) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		campaign.ID, campaign.UserID, campaign.Name, string(campaign.SearchMode), campaign.TargetResults,
		campaign.Notified, campaign.NotifiedAt, campaign.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("campaign %s: %w", campaign.ID, store.ErrAlreadyExists)
		}
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*types.Campaign, error) {
	c, err := scanCampaign(s.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("campaign %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (s *Store) ListPendingCampaigns(ctx context.Context) ([]*types.Campaign, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE NOT notified ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query pending campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*types.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (s *Store) MarkCampaignNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE campaigns SET notified = TRUE, notified_at = $2 WHERE id = $1 AND NOT notified`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark campaign notified: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetCampaign(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) GetUsage(ctx context.Context, userID string) (*types.Usage, error) {
	u := types.Usage{UserID: userID}
	err := s.pool.QueryRow(ctx, `
		SELECT results_counted, batches_counted, updated_at FROM usage_counters WHERE user_id = $1`, userID).
		Scan(&u.ResultsCounted, &u.BatchesCounted, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return &u, nil
}

func scanJob(row pgx.Row) (*types.Job, error) {
	var j types.Job
	var platform, mode, status string
	err := row.Scan(
		&j.ID, &j.UserID, &j.CampaignID, &platform, &mode, &j.Keywords, &j.TargetUsername,
		&j.ProviderOverride, &j.TargetResults, &j.ProcessedResults, &j.RunCount, &j.Cursor, &status,
		&j.Error, &j.Message, &j.Provider, &j.Version, &j.TimeoutAt, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Platform = types.Platform(platform)
	j.SearchMode = types.SearchMode(mode)
	j.Status = types.Status(status)
	return &j, nil
}

func scanCampaign(row pgx.Row) (*types.Campaign, error) {
	var (
		c    types.Campaign
		mode string
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &mode, &c.TargetResults, &c.Notified, &c.NotifiedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.SearchMode = types.SearchMode(mode)
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
