package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/apm-cli/internal/model"
)

// ErrAlreadyProcessed is returned by CompleteTranscript when another unit
// of work finished the transcript first. Nothing is written in that case.
var ErrAlreadyProcessed = errors.New("transcript already processed")

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single writer keeps transactions from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS applications (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	commercial INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS transcripts (
	id             TEXT PRIMARY KEY,
	application_id TEXT NOT NULL REFERENCES applications(id),
	file_name      TEXT NOT NULL,
	text           TEXT NOT NULL,
	processed      INTEGER NOT NULL DEFAULT 0,
	uploaded_at    DATETIME NOT NULL,
	processed_at   DATETIME
);

CREATE TABLE IF NOT EXISTS answers (
	id                TEXT PRIMARY KEY,
	application_id    TEXT NOT NULL REFERENCES applications(id),
	source            TEXT NOT NULL,
	transcript_id     TEXT NOT NULL DEFAULT '',
	question_id       TEXT NOT NULL,
	block             TEXT NOT NULL,
	answer_text       TEXT NOT NULL DEFAULT '',
	score             INTEGER,
	confidence        REAL NOT NULL,
	extraction_method TEXT NOT NULL DEFAULT '',
	source_excerpt    TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS synergy_scores (
	id             TEXT PRIMARY KEY,
	application_id TEXT NOT NULL REFERENCES applications(id),
	block          TEXT NOT NULL,
	score          INTEGER NOT NULL CHECK (score BETWEEN 1 AND 5),
	suggested_by   TEXT NOT NULL,
	confidence     REAL NOT NULL,
	rationale      TEXT NOT NULL DEFAULT '',
	approved       INTEGER NOT NULL DEFAULT 0,
	approved_by    TEXT NOT NULL DEFAULT '',
	approved_at    DATETIME,
	created_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS insights (
	id             TEXT PRIMARY KEY,
	application_id TEXT NOT NULL REFERENCES applications(id),
	facet          TEXT NOT NULL,
	title          TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	priority       TEXT NOT NULL DEFAULT '',
	impact         TEXT NOT NULL DEFAULT '',
	complexity     TEXT NOT NULL DEFAULT '',
	confidence     TEXT NOT NULL,
	evidence       TEXT NOT NULL DEFAULT '[]',
	affected_apps  TEXT NOT NULL DEFAULT '[]',
	unsupported    INTEGER NOT NULL DEFAULT 0,
	not_applicable INTEGER NOT NULL DEFAULT 0,
	payload        TEXT,
	model_version  TEXT NOT NULL DEFAULT '',
	generated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolio_insights (
	id                 TEXT PRIMARY KEY,
	type               TEXT NOT NULL,
	title              TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	priority           TEXT NOT NULL,
	impact             TEXT NOT NULL DEFAULT '',
	complexity         TEXT NOT NULL DEFAULT '',
	evidence           TEXT NOT NULL DEFAULT '[]',
	affected_apps      TEXT NOT NULL DEFAULT '[]',
	recommended_action TEXT NOT NULL DEFAULT '',
	model_version      TEXT NOT NULL DEFAULT '',
	generated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS block_weights (
	block      TEXT PRIMARY KEY,
	weight     REAL NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_transcripts_app_file ON transcripts(application_id, file_name);
CREATE UNIQUE INDEX IF NOT EXISTS uq_answers_natural_key ON answers(application_id, transcript_id, question_id);
CREATE UNIQUE INDEX IF NOT EXISTS uq_scores_unapproved ON synergy_scores(application_id, block) WHERE approved = 0;
CREATE UNIQUE INDEX IF NOT EXISTS uq_insights_app_facet ON insights(application_id, facet);
CREATE INDEX IF NOT EXISTS idx_transcripts_processed ON transcripts(processed);
CREATE INDEX IF NOT EXISTS idx_scores_app ON synergy_scores(application_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("sqlite: context done before commit: %w", err)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// --- Applications ---

const appColumns = `id, name, commercial, created_at, updated_at`

func (s *SQLiteStore) FindOrCreateApplication(ctx context.Context, name string, commercial bool) (*model.Application, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, model.Invalid("name", "application name is empty")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO applications (id, name, commercial, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		uuid.New().String(), name, commercial, now, now,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: insert application %s", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}
	app, err := s.GetApplicationByName(ctx, name)
	if err != nil {
		return nil, false, err
	}
	return app, n == 1, nil
}

func (s *SQLiteStore) GetApplication(ctx context.Context, id string) (*model.Application, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+appColumns+` FROM applications WHERE id = ?`, id)
	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: application %s: %w", id, model.ErrNotFound)
	}
	return app, eris.Wrapf(err, "sqlite: get application %s", id)
}

func (s *SQLiteStore) GetApplicationByName(ctx context.Context, name string) (*model.Application, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+appColumns+` FROM applications WHERE name = ?`, name)
	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: application %q: %w", name, model.ErrNotFound)
	}
	return app, eris.Wrapf(err, "sqlite: get application %q", name)
}

func (s *SQLiteStore) ListApplications(ctx context.Context) ([]model.Application, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+appColumns+` FROM applications ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list applications")
	}
	defer rows.Close() //nolint:errcheck

	var apps []model.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan application")
		}
		apps = append(apps, *app)
	}
	return apps, eris.Wrap(rows.Err(), "sqlite: iterate applications")
}

// --- Answers ---

const answerColumns = `id, application_id, source, transcript_id, question_id, block, answer_text, score, confidence, extraction_method, source_excerpt, created_at`

func (s *SQLiteStore) AnswerExists(ctx context.Context, key model.AnswerKey) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM answers WHERE application_id = ? AND transcript_id = ? AND question_id = ?`,
		key.ApplicationID, key.TranscriptID, key.QuestionID,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: answer exists")
	}
	return n > 0, nil
}

func (s *SQLiteStore) InsertAnswers(ctx context.Context, answers []model.Answer) (int, error) {
	if len(answers) == 0 {
		return 0, nil
	}
	var inserted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		inserted, err = insertAnswersTx(ctx, tx, answers)
		return err
	})
	return inserted, err
}

func insertAnswersTx(ctx context.Context, tx *sql.Tx, answers []model.Answer) (int, error) {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO answers (`+answerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(application_id, transcript_id, question_id) DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert answer")
	}
	defer stmt.Close() //nolint:errcheck

	inserted := 0
	for i := range answers {
		a := prepareAnswer(&answers[i])
		res, err := stmt.ExecContext(ctx, answerArgs(a)...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert answer %s", a.QuestionID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(n)
	}
	return inserted, nil
}

func (s *SQLiteStore) ListAnswers(ctx context.Context, appID string) ([]model.Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+answerColumns+` FROM answers WHERE application_id = ? ORDER BY created_at, rowid`, appID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list answers")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan answer")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate answers")
}

// --- Transcripts ---

const transcriptColumns = `id, application_id, file_name, text, processed, uploaded_at, processed_at`

func (s *SQLiteStore) GetTranscript(ctx context.Context, appID, fileName string) (*model.Transcript, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transcriptColumns+` FROM transcripts WHERE application_id = ? AND file_name = ?`,
		appID, fileName)
	t, err := scanTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, eris.Wrapf(err, "sqlite: get transcript %s", fileName)
}

// SaveTranscript stores the transcript text unless the same file was
// already processed for the application. On return t reflects the stored row.
func (s *SQLiteStore) SaveTranscript(ctx context.Context, t *model.Transcript) error {
	if t.UploadedAt.IsZero() {
		t.UploadedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (id, application_id, file_name, text, processed, uploaded_at) VALUES (?, ?, ?, ?, 0, ?)
		 ON CONFLICT(application_id, file_name) DO UPDATE SET text = excluded.text WHERE transcripts.processed = 0`,
		uuid.New().String(), t.ApplicationID, t.FileName, t.Text, t.UploadedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save transcript %s", t.FileName)
	}
	stored, err := s.GetTranscript(ctx, t.ApplicationID, t.FileName)
	if err != nil {
		return err
	}
	if stored == nil {
		return eris.Errorf("sqlite: transcript %s vanished after save", t.FileName)
	}
	*t = *stored
	return nil
}

func (s *SQLiteStore) ListTranscripts(ctx context.Context, appID string) ([]model.Transcript, error) {
	return s.queryTranscripts(ctx,
		`SELECT `+transcriptColumns+` FROM transcripts WHERE application_id = ? ORDER BY uploaded_at, file_name`, appID)
}

func (s *SQLiteStore) ListPendingTranscripts(ctx context.Context) ([]model.Transcript, error) {
	return s.queryTranscripts(ctx,
		`SELECT `+transcriptColumns+` FROM transcripts WHERE processed = 0 ORDER BY uploaded_at, file_name`)
}

func (s *SQLiteStore) queryTranscripts(ctx context.Context, query string, args ...any) ([]model.Transcript, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list transcripts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan transcript")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate transcripts")
}

// CompleteTranscript inserts the extracted answers and marks the transcript
// processed in one transaction. Answers whose natural key already exists
// are skipped.
func (s *SQLiteStore) CompleteTranscript(ctx context.Context, transcriptID string, answers []model.Answer) (int, error) {
	var inserted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var processed bool
		err := tx.QueryRowContext(ctx, `SELECT processed FROM transcripts WHERE id = ?`, transcriptID).Scan(&processed)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("sqlite: transcript %s: %w", transcriptID, model.ErrNotFound)
		}
		if err != nil {
			return eris.Wrapf(err, "sqlite: load transcript %s", transcriptID)
		}
		if processed {
			return ErrAlreadyProcessed
		}
		if inserted, err = insertAnswersTx(ctx, tx, answers); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE transcripts SET processed = 1, processed_at = ? WHERE id = ?`,
			time.Now().UTC(), transcriptID)
		if err != nil {
			return eris.Wrapf(err, "sqlite: mark transcript %s processed", transcriptID)
		}
		return checkRowsAffected(res, "transcript", transcriptID)
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// --- Scores ---

const scoreColumns = `id, application_id, block, score, suggested_by, confidence, rationale, approved, approved_by, approved_at, created_at`

func (s *SQLiteStore) HasUnapprovedScores(ctx context.Context, appID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM synergy_scores WHERE application_id = ? AND approved = 0`, appID).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: count unapproved scores")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListScores(ctx context.Context, appID string) ([]model.SynergyScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scoreColumns+` FROM synergy_scores WHERE application_id = ? ORDER BY created_at, rowid`, appID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scores")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SynergyScore
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan score")
		}
		out = append(out, *sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate scores")
}

// ReplaceUnapprovedScores retires every pending suggestion of the
// application and stores the new set. Approved scores are left alone.
func (s *SQLiteStore) ReplaceUnapprovedScores(ctx context.Context, appID string, scores []model.SynergyScore) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM synergy_scores WHERE application_id = ? AND approved = 0`, appID); err != nil {
			return eris.Wrap(err, "sqlite: delete unapproved scores")
		}
		for i := range scores {
			sc := prepareScore(appID, &scores[i])
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO synergy_scores (`+scoreColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', NULL, ?)`,
				sc.ID, sc.ApplicationID, string(sc.Block), sc.Score, string(sc.SuggestedBy),
				sc.Confidence, sc.Rationale, sc.CreatedAt,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert score %s", sc.Block)
			}
		}
		return nil
	})
}

// ApproveScore marks a score approved, retiring any other approved score
// for the same block. A non-nil override replaces the value and records the
// score as manual.
func (s *SQLiteStore) ApproveScore(ctx context.Context, scoreID, approver string, override *int) (*model.SynergyScore, error) {
	if err := validateOverride(override); err != nil {
		return nil, err
	}
	var approved *model.SynergyScore
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+scoreColumns+` FROM synergy_scores WHERE id = ?`, scoreID)
		sc, err := scanScore(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("sqlite: score %s: %w", scoreID, model.ErrNotFound)
		}
		if err != nil {
			return eris.Wrapf(err, "sqlite: load score %s", scoreID)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM synergy_scores WHERE application_id = ? AND block = ? AND approved = 1 AND id <> ?`,
			sc.ApplicationID, string(sc.Block), sc.ID); err != nil {
			return eris.Wrap(err, "sqlite: retire approved scores")
		}
		applyApproval(sc, approver, override)
		res, err := tx.ExecContext(ctx,
			`UPDATE synergy_scores SET score = ?, suggested_by = ?, approved = 1, approved_by = ?, approved_at = ? WHERE id = ?`,
			sc.Score, string(sc.SuggestedBy), sc.ApprovedBy, *sc.ApprovedAt, sc.ID)
		if err != nil {
			return eris.Wrapf(err, "sqlite: approve score %s", scoreID)
		}
		approved = sc
		return checkRowsAffected(res, "score", scoreID)
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// --- Insights ---

const insightColumns = `id, application_id, facet, title, description, priority, impact, complexity, confidence, evidence, affected_apps, unsupported, not_applicable, payload, model_version, generated_at`

func (s *SQLiteStore) ReplaceInsights(ctx context.Context, appID string, insights []model.Insight) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM insights WHERE application_id = ?`, appID); err != nil {
			return eris.Wrap(err, "sqlite: delete insights")
		}
		for i := range insights {
			args, err := insightArgs(appID, &insights[i])
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO insights (`+insightColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				args...); err != nil {
				return eris.Wrapf(err, "sqlite: insert insight %s", insights[i].Facet)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListInsights(ctx context.Context, appID string) ([]model.Insight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+insightColumns+` FROM insights WHERE application_id = ? ORDER BY rowid`, appID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list insights")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Insight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan insight")
		}
		out = append(out, *in)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate insights")
}

const portfolioColumns = `id, type, title, description, priority, impact, complexity, evidence, affected_apps, recommended_action, model_version, generated_at`

func (s *SQLiteStore) ReplacePortfolioInsights(ctx context.Context, insights []model.PortfolioInsight) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM portfolio_insights`); err != nil {
			return eris.Wrap(err, "sqlite: delete portfolio insights")
		}
		for i := range insights {
			args, err := portfolioArgs(&insights[i])
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO portfolio_insights (`+portfolioColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				args...); err != nil {
				return eris.Wrapf(err, "sqlite: insert portfolio insight %q", insights[i].Title)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListPortfolioInsights(ctx context.Context) ([]model.PortfolioInsight, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+portfolioColumns+` FROM portfolio_insights ORDER BY rowid`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list portfolio insights")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PortfolioInsight
	for rows.Next() {
		pi, err := scanPortfolioInsight(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan portfolio insight")
		}
		out = append(out, *pi)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate portfolio insights")
}

// --- Weights ---

func (s *SQLiteStore) GetBlockWeights(ctx context.Context) ([]model.BlockWeight, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT block, weight FROM block_weights ORDER BY block`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list block weights")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.BlockWeight
	for rows.Next() {
		var w model.BlockWeight
		var block string
		if err := rows.Scan(&block, &w.Weight); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan block weight")
		}
		w.Block = model.Block(block)
		out = append(out, w)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate block weights")
}

func (s *SQLiteStore) SetBlockWeights(ctx context.Context, weights []model.BlockWeight) error {
	if err := validateWeights(weights); err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, w := range weights {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO block_weights (block, weight, updated_at) VALUES (?, ?, ?)
				 ON CONFLICT(block) DO UPDATE SET weight = excluded.weight, updated_at = excluded.updated_at`,
				string(w.Block), w.Weight, now); err != nil {
				return eris.Wrapf(err, "sqlite: set weight %s", w.Block)
			}
		}
		return nil
	})
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
