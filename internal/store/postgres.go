package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"towerplan/internal/model"
)

//go:embed schema.sql
var schema string

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the embedded schema. Statements are idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

const runColumns = `id::text, COALESCE(owner,''), status, COALESCE(error,''), dim, cities, service_radius, penalty_radius,
	params, towers, penalty, solution, best_restart, restarts, failures, elapsed_ms, created_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(rs rowScanner) (model.Run, error) {
	var (
		r        model.Run
		params   []byte
		solution []byte
		finished sql.NullTime
	)
	err := rs.Scan(&r.ID, &r.Owner, &r.Status, &r.Error, &r.Dim, &r.Cities, &r.ServiceRadius, &r.PenaltyRadius,
		&params, &r.Towers, &r.Penalty, &solution, &r.BestRestart, &r.Restarts, &r.Failures, &r.ElapsedMs, &r.CreatedAt, &finished)
	if err != nil {
		return r, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &r.Params); err != nil {
			return r, fmt.Errorf("run %s params: %w", r.ID, err)
		}
	}
	if len(solution) > 0 {
		if err := json.Unmarshal(solution, &r.Solution); err != nil {
			return r, fmt.Errorf("run %s solution: %w", r.ID, err)
		}
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return r, nil
}

func (p *Postgres) CreateRun(ctx context.Context, run model.Run) (model.Run, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.RunRunning
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return run, err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO runs (id, owner, status, dim, cities, service_radius, penalty_radius, params, best_restart, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		run.ID, nullIfEmpty(run.Owner), run.Status, run.Dim, run.Cities, run.ServiceRadius, run.PenaltyRadius, string(params), run.BestRestart, run.CreatedAt)
	if err != nil {
		return run, err
	}
	return run, nil
}

func (p *Postgres) UpdateRun(ctx context.Context, run model.Run) error {
	var solution any
	if run.Solution != nil {
		b, err := json.Marshal(run.Solution)
		if err != nil {
			return err
		}
		solution = string(b)
	}
	var finished any
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	res, err := p.db.ExecContext(ctx, `UPDATE runs SET status=$2, error=$3, towers=$4, penalty=$5, solution=$6, best_restart=$7,
		restarts=$8, failures=$9, elapsed_ms=$10, finished_at=$11 WHERE id=$1`,
		run.ID, run.Status, nullIfEmpty(run.Error), run.Towers, run.Penalty, solution, run.BestRestart,
		run.Restarts, run.Failures, run.ElapsedMs, finished)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetRun(ctx context.Context, id string) (model.Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Run{}, ErrNotFound
	}
	r, err := scanRun(p.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, ErrNotFound
	}
	return r, err
}

func (p *Postgres) ListRuns(ctx context.Context, status, cursor string, limit int) ([]model.Run, string, error) {
	limit = clampLimit(limit)
	q := `SELECT ` + runColumns + ` FROM runs WHERE ($1 = '' OR status = $1)`
	args := []any{status}
	if cursor != "" {
		if _, err := uuid.Parse(cursor); err != nil {
			return nil, "", ErrNotFound
		}
		q += ` AND (created_at, id) < (SELECT created_at, id FROM runs WHERE id = $3)`
		args = append(args, limit+1, cursor)
	} else {
		args = append(args, limit+1)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

func (p *Postgres) SaveRestarts(ctx context.Context, runID string, reports []model.RestartView) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_restarts WHERE run_id=$1`, runID); err != nil {
		return err
	}
	for _, rep := range reports {
		b, err := json.Marshal(rep)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO run_restarts (run_id, idx, report) VALUES ($1,$2,$3)`, runID, rep.Index, string(b)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) ListRestarts(ctx context.Context, runID string) ([]model.RestartView, error) {
	if _, err := p.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT report FROM run_restarts WHERE run_id=$1 ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.RestartView{}
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		var rep model.RestartView
		if err := json.Unmarshal(b, &rep); err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// Webhook deliveries
func (p *Postgres) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	dk := computeDedupKey(payload)
	err := p.db.QueryRowContext(ctx, `INSERT INTO webhook_deliveries (id, event_type, url, secret, payload, dedup_key, status, attempts, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now())
		ON CONFLICT (event_type, url, dedup_key) DO NOTHING RETURNING id::text`, id, eventType, url, nullIfEmpty(secret), payload, dk).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = p.db.QueryRowContext(ctx, `SELECT id::text FROM webhook_deliveries WHERE event_type=$1 AND url=$2 AND dedup_key=$3`, eventType, url, dk).Scan(&id)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

const deliveryColumns = `id::text, event_type, url, COALESCE(secret,''), payload, status, attempts, next_attempt_at,
	COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0), delivered_at`

func scanDeliveries(rows *sql.Rows) ([]WebhookDelivery, error) {
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var (
			d         WebhookDelivery
			delivered sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts, &d.NextAttemptAt,
			&d.LastError, &d.ResponseCode, &d.LatencyMs, &delivered); err != nil {
			return nil, err
		}
		if delivered.Valid {
			t := delivered.Time
			d.DeliveredAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+deliveryColumns+`
		FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return scanDeliveries(rows)
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3,
			updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`, id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(),
		response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	_, err = tx.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(),
		response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
	if err != nil {
		return err
	}
	// move to DLQ
	_, err = tx.ExecContext(ctx, `INSERT INTO webhook_dlq (id, delivery_id, event_type, url, secret, payload, attempts, last_error)
		SELECT gen_random_uuid(), id, event_type, url, secret, payload, attempts, $2 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError))
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC LIMIT $2`, status, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return scanDeliveries(rows)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
