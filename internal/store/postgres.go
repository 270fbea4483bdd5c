package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/apm-cli/internal/db"
	"github.com/sells-group/apm-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS applications (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	commercial BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transcripts (
	id             TEXT PRIMARY KEY,
	application_id TEXT NOT NULL REFERENCES applications(id),
	file_name      TEXT NOT NULL,
	text           TEXT NOT NULL,
	processed      BOOLEAN NOT NULL DEFAULT false,
	uploaded_at    TIMESTAMPTZ NOT NULL,
	processed_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS answers (
	seq               BIGSERIAL,
	id                TEXT PRIMARY KEY,
	application_id    TEXT NOT NULL REFERENCES applications(id),
	source            TEXT NOT NULL,
	transcript_id     TEXT NOT NULL DEFAULT '',
	question_id       TEXT NOT NULL,
	block             TEXT NOT NULL,
	answer_text       TEXT NOT NULL DEFAULT '',
	score             INTEGER,
	confidence        DOUBLE PRECISION NOT NULL,
	extraction_method TEXT NOT NULL DEFAULT '',
	source_excerpt    TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS synergy_scores (
	seq            BIGSERIAL,
	id             TEXT PRIMARY KEY,
	application_id TEXT NOT NULL REFERENCES applications(id),
	block          TEXT NOT NULL,
	score          INTEGER NOT NULL CHECK (score BETWEEN 1 AND 5),
	suggested_by   TEXT NOT NULL,
	confidence     DOUBLE PRECISION NOT NULL,
	rationale      TEXT NOT NULL DEFAULT '',
	approved       BOOLEAN NOT NULL DEFAULT false,
	approved_by    TEXT NOT NULL DEFAULT '',
	approved_at    TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS insights (
	seq            BIGSERIAL,
	id             TEXT PRIMARY KEY,
	application_id TEXT NOT NULL REFERENCES applications(id),
	facet          TEXT NOT NULL,
	title          TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	priority       TEXT NOT NULL DEFAULT '',
	impact         TEXT NOT NULL DEFAULT '',
	complexity     TEXT NOT NULL DEFAULT '',
	confidence     TEXT NOT NULL,
	evidence       JSONB NOT NULL DEFAULT '[]',
	affected_apps  JSONB NOT NULL DEFAULT '[]',
	unsupported    BOOLEAN NOT NULL DEFAULT false,
	not_applicable BOOLEAN NOT NULL DEFAULT false,
	payload        JSONB,
	model_version  TEXT NOT NULL DEFAULT '',
	generated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolio_insights (
	seq                BIGSERIAL,
	id                 TEXT PRIMARY KEY,
	type               TEXT NOT NULL,
	title              TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	priority           TEXT NOT NULL,
	impact             TEXT NOT NULL DEFAULT '',
	complexity         TEXT NOT NULL DEFAULT '',
	evidence           JSONB NOT NULL DEFAULT '[]',
	affected_apps      JSONB NOT NULL DEFAULT '[]',
	recommended_action TEXT NOT NULL DEFAULT '',
	model_version      TEXT NOT NULL DEFAULT '',
	generated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS block_weights (
	block      TEXT PRIMARY KEY,
	weight     DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_transcripts_app_file ON transcripts(application_id, file_name);
CREATE UNIQUE INDEX IF NOT EXISTS uq_answers_natural_key ON answers(application_id, transcript_id, question_id);
CREATE UNIQUE INDEX IF NOT EXISTS uq_scores_unapproved ON synergy_scores(application_id, block) WHERE NOT approved;
CREATE UNIQUE INDEX IF NOT EXISTS uq_insights_app_facet ON insights(application_id, facet);
CREATE INDEX IF NOT EXISTS idx_transcripts_pending ON transcripts(uploaded_at) WHERE NOT processed;
CREATE INDEX IF NOT EXISTS idx_scores_app ON synergy_scores(application_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Applications ---

func (s *PostgresStore) FindOrCreateApplication(ctx context.Context, name string, commercial bool) (*model.Application, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, model.Invalid("name", "application name is empty")
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO applications (id, name, commercial, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name) DO NOTHING`,
		uuid.New().String(), name, commercial, now, now,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: insert application %s", name)
	}
	app, err := s.GetApplicationByName(ctx, name)
	if err != nil {
		return nil, false, err
	}
	return app, tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetApplication(ctx context.Context, id string) (*model.Application, error) {
	app, err := scanApplication(s.pool.QueryRow(ctx,
		`SELECT `+appColumns+` FROM applications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: application %s: %w", id, model.ErrNotFound)
	}
	return app, eris.Wrapf(err, "postgres: get application %s", id)
}

func (s *PostgresStore) GetApplicationByName(ctx context.Context, name string) (*model.Application, error) {
	app, err := scanApplication(s.pool.QueryRow(ctx,
		`SELECT `+appColumns+` FROM applications WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: application %q: %w", name, model.ErrNotFound)
	}
	return app, eris.Wrapf(err, "postgres: get application %q", name)
}

func (s *PostgresStore) ListApplications(ctx context.Context) ([]model.Application, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+appColumns+` FROM applications ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list applications")
	}
	defer rows.Close()

	var apps []model.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan application")
		}
		apps = append(apps, *app)
	}
	return apps, eris.Wrap(rows.Err(), "postgres: iterate applications")
}

// --- Answers ---

var answerInsert = db.InsertConfig{
	Table: "answers",
	Columns: []string{"id", "application_id", "source", "transcript_id", "question_id", "block",
		"answer_text", "score", "confidence", "extraction_method", "source_excerpt", "created_at"},
	ConflictKeys: []string{"application_id", "transcript_id", "question_id"},
}

func (s *PostgresStore) AnswerExists(ctx context.Context, key model.AnswerKey) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM answers WHERE application_id = $1 AND transcript_id = $2 AND question_id = $3)`,
		key.ApplicationID, key.TranscriptID, key.QuestionID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "postgres: answer exists")
	}
	return exists, nil
}

func (s *PostgresStore) InsertAnswers(ctx context.Context, answers []model.Answer) (int, error) {
	if len(answers) == 0 {
		return 0, nil
	}
	var inserted int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		inserted, err = db.BulkInsert(ctx, tx, answerInsert, answerRows(answers))
		return err
	})
	return int(inserted), err
}

func answerRows(answers []model.Answer) [][]any {
	rows := make([][]any, len(answers))
	for i := range answers {
		rows[i] = answerArgs(prepareAnswer(&answers[i]))
	}
	return rows
}

func (s *PostgresStore) ListAnswers(ctx context.Context, appID string) ([]model.Answer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+answerColumns+` FROM answers WHERE application_id = $1 ORDER BY created_at, seq`, appID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list answers")
	}
	defer rows.Close()

	var out []model.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan answer")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate answers")
}

// --- Transcripts ---

func (s *PostgresStore) GetTranscript(ctx context.Context, appID, fileName string) (*model.Transcript, error) {
	t, err := scanTranscript(s.pool.QueryRow(ctx,
		`SELECT `+transcriptColumns+` FROM transcripts WHERE application_id = $1 AND file_name = $2`,
		appID, fileName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, eris.Wrapf(err, "postgres: get transcript %s", fileName)
}

func (s *PostgresStore) SaveTranscript(ctx context.Context, t *model.Transcript) error {
	if t.UploadedAt.IsZero() {
		t.UploadedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcripts (id, application_id, file_name, text, processed, uploaded_at) VALUES ($1, $2, $3, $4, false, $5)
		 ON CONFLICT (application_id, file_name) DO UPDATE SET text = EXCLUDED.text WHERE NOT transcripts.processed`,
		uuid.New().String(), t.ApplicationID, t.FileName, t.Text, t.UploadedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save transcript %s", t.FileName)
	}
	stored, err := s.GetTranscript(ctx, t.ApplicationID, t.FileName)
	if err != nil {
		return err
	}
	if stored == nil {
		return eris.Errorf("postgres: transcript %s vanished after save", t.FileName)
	}
	*t = *stored
	return nil
}

func (s *PostgresStore) ListTranscripts(ctx context.Context, appID string) ([]model.Transcript, error) {
	return s.queryTranscripts(ctx,
		`SELECT `+transcriptColumns+` FROM transcripts WHERE application_id = $1 ORDER BY uploaded_at, file_name`, appID)
}

func (s *PostgresStore) ListPendingTranscripts(ctx context.Context) ([]model.Transcript, error) {
	return s.queryTranscripts(ctx,
		`SELECT `+transcriptColumns+` FROM transcripts WHERE NOT processed ORDER BY uploaded_at, file_name`)
}

func (s *PostgresStore) queryTranscripts(ctx context.Context, query string, args ...any) ([]model.Transcript, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list transcripts")
	}
	defer rows.Close()

	var out []model.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan transcript")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate transcripts")
}

func (s *PostgresStore) CompleteTranscript(ctx context.Context, transcriptID string, answers []model.Answer) (int, error) {
	var inserted int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var processed bool
		err := tx.QueryRow(ctx, `SELECT processed FROM transcripts WHERE id = $1 FOR UPDATE`, transcriptID).Scan(&processed)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: transcript %s: %w", transcriptID, model.ErrNotFound)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: load transcript %s", transcriptID)
		}
		if processed {
			return ErrAlreadyProcessed
		}
		if inserted, err = db.BulkInsert(ctx, tx, answerInsert, answerRows(answers)); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE transcripts SET processed = true, processed_at = $1 WHERE id = $2`,
			time.Now().UTC(), transcriptID)
		if err != nil {
			return eris.Wrapf(err, "postgres: mark transcript %s processed", transcriptID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Errorf("transcript not found: %s", transcriptID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(inserted), nil
}

// --- Scores ---

var scoreInsert = db.InsertConfig{
	Table: "synergy_scores",
	Columns: []string{"id", "application_id", "block", "score", "suggested_by", "confidence",
		"rationale", "approved", "approved_by", "approved_at", "created_at"},
}

func (s *PostgresStore) HasUnapprovedScores(ctx context.Context, appID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM synergy_scores WHERE application_id = $1 AND NOT approved)`, appID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "postgres: unapproved scores")
	}
	return exists, nil
}

func (s *PostgresStore) ListScores(ctx context.Context, appID string) ([]model.SynergyScore, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scoreColumns+` FROM synergy_scores WHERE application_id = $1 ORDER BY created_at, seq`, appID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scores")
	}
	defer rows.Close()

	var out []model.SynergyScore
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan score")
		}
		out = append(out, *sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate scores")
}

func (s *PostgresStore) ReplaceUnapprovedScores(ctx context.Context, appID string, scores []model.SynergyScore) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM synergy_scores WHERE application_id = $1 AND NOT approved`, appID); err != nil {
			return eris.Wrap(err, "postgres: delete unapproved scores")
		}
		rows := make([][]any, len(scores))
		for i := range scores {
			sc := prepareScore(appID, &scores[i])
			rows[i] = []any{sc.ID, sc.ApplicationID, string(sc.Block), sc.Score, string(sc.SuggestedBy),
				sc.Confidence, sc.Rationale, false, "", nil, sc.CreatedAt}
		}
		_, err := db.BulkInsert(ctx, tx, scoreInsert, rows)
		return err
	})
}

func (s *PostgresStore) ApproveScore(ctx context.Context, scoreID, approver string, override *int) (*model.SynergyScore, error) {
	if err := validateOverride(override); err != nil {
		return nil, err
	}
	var approved *model.SynergyScore
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		sc, err := scanScore(tx.QueryRow(ctx,
			`SELECT `+scoreColumns+` FROM synergy_scores WHERE id = $1 FOR UPDATE`, scoreID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: score %s: %w", scoreID, model.ErrNotFound)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: load score %s", scoreID)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM synergy_scores WHERE application_id = $1 AND block = $2 AND approved AND id <> $3`,
			sc.ApplicationID, string(sc.Block), sc.ID); err != nil {
			return eris.Wrap(err, "postgres: retire approved scores")
		}
		applyApproval(sc, approver, override)
		if _, err := tx.Exec(ctx,
			`UPDATE synergy_scores SET score = $1, suggested_by = $2, approved = true, approved_by = $3, approved_at = $4 WHERE id = $5`,
			sc.Score, string(sc.SuggestedBy), sc.ApprovedBy, *sc.ApprovedAt, sc.ID); err != nil {
			return eris.Wrapf(err, "postgres: approve score %s", scoreID)
		}
		approved = sc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// --- Insights ---

var insightInsert = db.InsertConfig{
	Table: "insights",
	Columns: []string{"id", "application_id", "facet", "title", "description", "priority", "impact",
		"complexity", "confidence", "evidence", "affected_apps", "unsupported", "not_applicable",
		"payload", "model_version", "generated_at"},
}

var portfolioInsert = db.InsertConfig{
	Table: "portfolio_insights",
	Columns: []string{"id", "type", "title", "description", "priority", "impact", "complexity",
		"evidence", "affected_apps", "recommended_action", "model_version", "generated_at"},
}

func (s *PostgresStore) ReplaceInsights(ctx context.Context, appID string, insights []model.Insight) error {
	rows := make([][]any, len(insights))
	for i := range insights {
		args, err := insightArgs(appID, &insights[i])
		if err != nil {
			return err
		}
		rows[i] = args
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM insights WHERE application_id = $1`, appID); err != nil {
			return eris.Wrap(err, "postgres: delete insights")
		}
		_, err := db.BulkInsert(ctx, tx, insightInsert, rows)
		return err
	})
}

func (s *PostgresStore) ListInsights(ctx context.Context, appID string) ([]model.Insight, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+insightColumns+` FROM insights WHERE application_id = $1 ORDER BY seq`, appID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list insights")
	}
	defer rows.Close()

	var out []model.Insight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan insight")
		}
		out = append(out, *in)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate insights")
}

func (s *PostgresStore) ReplacePortfolioInsights(ctx context.Context, insights []model.PortfolioInsight) error {
	rows := make([][]any, len(insights))
	for i := range insights {
		args, err := portfolioArgs(&insights[i])
		if err != nil {
			return err
		}
		rows[i] = args
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM portfolio_insights`); err != nil {
			return eris.Wrap(err, "postgres: delete portfolio insights")
		}
		_, err := db.BulkInsert(ctx, tx, portfolioInsert, rows)
		return err
	})
}

func (s *PostgresStore) ListPortfolioInsights(ctx context.Context) ([]model.PortfolioInsight, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+portfolioColumns+` FROM portfolio_insights ORDER BY seq`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list portfolio insights")
	}
	defer rows.Close()

	var out []model.PortfolioInsight
	for rows.Next() {
		pi, err := scanPortfolioInsight(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan portfolio insight")
		}
		out = append(out, *pi)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate portfolio insights")
}

// --- Weights ---

func (s *PostgresStore) GetBlockWeights(ctx context.Context) ([]model.BlockWeight, error) {
	rows, err := s.pool.Query(ctx, `SELECT block, weight FROM block_weights ORDER BY block`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list block weights")
	}
	defer rows.Close()

	var out []model.BlockWeight
	for rows.Next() {
		var w model.BlockWeight
		var block string
		if err := rows.Scan(&block, &w.Weight); err != nil {
			return nil, eris.Wrap(err, "postgres: scan block weight")
		}
		w.Block = model.Block(block)
		out = append(out, w)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate block weights")
}

func (s *PostgresStore) SetBlockWeights(ctx context.Context, weights []model.BlockWeight) error {
	if err := validateWeights(weights); err != nil {
		return err
	}
	now := time.Now().UTC()
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, w := range weights {
			if _, err := tx.Exec(ctx,
				`INSERT INTO block_weights (block, weight, updated_at) VALUES ($1, $2, $3)
				 ON CONFLICT (block) DO UPDATE SET weight = EXCLUDED.weight, updated_at = EXCLUDED.updated_at`,
				string(w.Block), w.Weight, now); err != nil {
				return eris.Wrapf(err, "postgres: set weight %s", w.Block)
			}
		}
		return nil
	})
}
