package pattern

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/contact-intel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and single-node deployments; scope filtering that Postgres
// does with jsonb operators happens in Go here.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS discovered_patterns (
	id                     TEXT PRIMARY KEY,
	dedup_key              TEXT NOT NULL,
	user_id                TEXT NOT NULL DEFAULT '',
	pattern_type           TEXT NOT NULL,
	trigger_conditions     TEXT NOT NULL,
	expected_outcome       TEXT NOT NULL,
	confidence_score       REAL NOT NULL DEFAULT 0,
	supporting_sessions    TEXT NOT NULL DEFAULT '[]',
	contradicting_sessions INTEGER NOT NULL DEFAULT 0,
	accuracy_rate          REAL NOT NULL DEFAULT 0,
	usage_count            INTEGER NOT NULL DEFAULT 0,
	industries             TEXT NOT NULL DEFAULT '[]',
	roles                  TEXT NOT NULL DEFAULT '[]',
	validation_status      TEXT NOT NULL DEFAULT 'discovered',
	discovery_method       TEXT NOT NULL DEFAULT '',
	created_at             DATETIME NOT NULL,
	updated_at             DATETIME NOT NULL,
	UNIQUE (user_id, dedup_key)
);

CREATE INDEX IF NOT EXISTS idx_patterns_user_status ON discovered_patterns(user_id, validation_status);

CREATE TABLE IF NOT EXISTS intelligence_profiles (
	user_id    TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS research_sessions (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	profile_url      TEXT NOT NULL,
	features         TEXT NOT NULL DEFAULT '{}',
	telemetry        TEXT NOT NULL DEFAULT '{}',
	outcome          TEXT NOT NULL DEFAULT '',
	confidence_level REAL NOT NULL DEFAULT 0,
	relevance_rating REAL NOT NULL DEFAULT 0,
	reasoning        TEXT NOT NULL DEFAULT '',
	started_at       DATETIME NOT NULL,
	finalized_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_started ON research_sessions(user_id, started_at);

CREATE TABLE IF NOT EXISTS feedback_interactions (
	id                 TEXT PRIMARY KEY,
	session_id         TEXT NOT NULL,
	user_id            TEXT NOT NULL,
	profile_url        TEXT NOT NULL DEFAULT '',
	feedback_type      TEXT NOT NULL,
	payload            TEXT,
	learning_value     REAL NOT NULL DEFAULT 0,
	processed          INTEGER NOT NULL DEFAULT 0,
	processing_results TEXT,
	created_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_unprocessed ON feedback_interactions(processed, created_at);

CREATE TABLE IF NOT EXISTS validation_experiments (
	id             TEXT PRIMARY KEY,
	pattern_id     TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'running',
	final_decision TEXT NOT NULL DEFAULT '',
	data           TEXT NOT NULL,
	started_at     DATETIME NOT NULL,
	concluded_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_experiments_status ON validation_experiments(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SavePattern(ctx context.Context, p *model.DiscoveredPattern) (*model.DiscoveredPattern, bool, error) {
	now := time.Now().UTC()

	existing, err := s.findByDedupKey(ctx, p.UserID, p.DedupKey())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	if existing != nil {
		mergeInto(existing, p, now)
		if err := s.updatePattern(ctx, existing); err != nil {
			return nil, false, err
		}
		return existing, true, nil
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.ValidationStatus == "" {
		p.ValidationStatus = model.StatusDiscovered
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	lowerScope(p)

	triggerJSON, sessionsJSON, industriesJSON, rolesJSON, err := marshalPatternFields(p)
	if err != nil {
		return nil, false, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO discovered_patterns
			(id, dedup_key, user_id, pattern_type, trigger_conditions, expected_outcome,
			confidence_score, supporting_sessions, contradicting_sessions, accuracy_rate,
			usage_count, industries, roles, validation_status, discovery_method, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.DedupKey(), p.UserID, string(p.PatternType), triggerJSON, string(p.ExpectedOutcome),
		p.ConfidenceScore, sessionsJSON, p.ContradictingSessions, p.AccuracyRate,
		p.UsageCount, industriesJSON, rolesJSON, string(p.ValidationStatus), p.DiscoveryMethod,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: insert pattern %s", p.ID)
	}
	return p, false, nil
}

func (s *SQLiteStore) findByDedupKey(ctx context.Context, userID, key string) (*model.DiscoveredPattern, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM discovered_patterns WHERE user_id = ? AND dedup_key = ?`,
		userID, key,
	)
	p, err := scanSQLitePattern(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: find pattern by dedup key")
	}
	return p, nil
}

func (s *SQLiteStore) updatePattern(ctx context.Context, p *model.DiscoveredPattern) error {
	sessionsJSON, err := json.Marshal(nonNil(p.SupportingSessions))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal supporting sessions")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE discovered_patterns SET
			confidence_score = ?, supporting_sessions = ?, contradicting_sessions = ?,
			accuracy_rate = ?, usage_count = ?, updated_at = ?
		WHERE id = ?`,
		p.ConfidenceScore, string(sessionsJSON), p.ContradictingSessions,
		p.AccuracyRate, p.UsageCount, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update pattern %s", p.ID)
	}
	return nil
}

func (s *SQLiteStore) GetPattern(ctx context.Context, id string) (*model.DiscoveredPattern, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM discovered_patterns WHERE id = ?`, id)
	p, err := scanSQLitePattern(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get pattern %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) FindApplicable(ctx context.Context, userID string, industries, roles []string) ([]model.DiscoveredPattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+patternColumns+` FROM discovered_patterns
		WHERE (user_id = '' OR user_id = ?)
			AND validation_status NOT IN ('archived', 'deprecated')`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find applicable patterns")
	}
	defer rows.Close()

	var out []model.DiscoveredPattern
	for rows.Next() {
		p, err := scanSQLitePattern(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pattern")
		}
		if scopeMatches(p, industries, roles) {
			out = append(out, *p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: find applicable iterate")
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ConfidenceScore > out[j].ConfidenceScore
	})
	return out, nil
}

// scopeMatches checks the pattern's industry and role scope against the
// caller's context. An empty scope list on the pattern matches anything.
func scopeMatches(p *model.DiscoveredPattern, industries, roles []string) bool {
	if len(p.Industries) > 0 && !anyFold(p.Industries, industries) {
		return false
	}
	if len(p.Roles) > 0 && !anyFold(p.Roles, roles) {
		return false
	}
	return true
}

func anyFold(scope, values []string) bool {
	for _, v := range values {
		for _, s := range scope {
			if strings.EqualFold(s, v) {
				return true
			}
		}
	}
	return false
}

func (s *SQLiteStore) ListPatterns(ctx context.Context, filter PatternFilter) ([]model.DiscoveredPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM discovered_patterns WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += ` AND validation_status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.PatternType != "" {
		query += ` AND pattern_type = ?`
		args = append(args, string(filter.PatternType))
	}
	if filter.MinConfidence > 0 {
		query += ` AND confidence_score >= ?`
		args = append(args, filter.MinConfidence)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` ORDER BY confidence_score DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list patterns")
	}
	defer rows.Close()

	var out []model.DiscoveredPattern
	for rows.Next() {
		p, err := scanSQLitePattern(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pattern")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list patterns iterate")
}

func (s *SQLiteStore) TransitionStatus(ctx context.Context, id string, next model.ValidationStatus) error {
	p, err := s.GetPattern(ctx, id)
	if err != nil {
		return err
	}
	if !p.ValidationStatus.CanTransitionTo(next) {
		return eris.Wrapf(ErrIllegalTransition, "%s -> %s", p.ValidationStatus, next)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE discovered_patterns SET validation_status = ?, updated_at = ? WHERE id = ?`,
		string(next), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition pattern %s", id)
	}
	return nil
}

func (s *SQLiteStore) RecordApplication(ctx context.Context, id string, corroborating bool) error {
	p, err := s.GetPattern(ctx, id)
	if err != nil {
		return err
	}
	if corroborating {
		p.Corroborate()
	} else {
		p.Contradict()
	}
	p.UpdatedAt = time.Now().UTC()
	return s.updatePattern(ctx, p)
}

func (s *SQLiteStore) GetOrCreateProfile(ctx context.Context, userID string) (*model.UserIntelligenceProfile, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM intelligence_profiles WHERE user_id = ?`, userID,
	).Scan(&data)
	if err == nil {
		var p model.UserIntelligenceProfile
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal profile %s", userID)
		}
		return &p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(err, "sqlite: get profile %s", userID)
	}

	p := model.NewUserIntelligenceProfile(userID)
	body, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal profile")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO intelligence_profiles (user_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, string(body), p.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create profile %s", userID)
	}
	return p, nil
}

func (s *SQLiteStore) UpdateProfile(ctx context.Context, p *model.UserIntelligenceProfile) error {
	body, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal profile")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE intelligence_profiles SET data = ?, updated_at = ? WHERE user_id = ?`,
		string(body), time.Now().UTC(), p.UserID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update profile %s", p.UserID)
	}
	return checkNotFound(res)
}

func (s *SQLiteStore) DeleteUserData(ctx context.Context, userID string) error {
	stmts := []string{
		`DELETE FROM intelligence_profiles WHERE user_id = ?`,
		`DELETE FROM discovered_patterns WHERE user_id = ?`,
		`DELETE FROM research_sessions WHERE user_id = ?`,
		`DELETE FROM feedback_interactions WHERE user_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt, userID); err != nil {
			return eris.Wrapf(err, "sqlite: delete user data %s", userID)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess *model.ResearchSession) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	featuresJSON, err := json.Marshal(sess.Features)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session features")
	}
	telemetryJSON, err := json.Marshal(sess.Telemetry)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session telemetry")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO research_sessions
			(id, user_id, profile_url, features, telemetry, outcome, confidence_level,
			relevance_rating, reasoning, started_at, finalized_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			features = excluded.features,
			telemetry = excluded.telemetry,
			outcome = excluded.outcome,
			confidence_level = excluded.confidence_level,
			relevance_rating = excluded.relevance_rating,
			reasoning = excluded.reasoning,
			finalized_at = excluded.finalized_at`,
		sess.ID, sess.UserID, sess.ProfileURL, string(featuresJSON), string(telemetryJSON),
		string(sess.Outcome), sess.ConfidenceLevel, sess.RelevanceRating,
		sess.Reasoning, sess.StartedAt, sess.FinalizedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save session %s", sess.ID)
	}
	return nil
}

func (s *SQLiteStore) FinalizeSession(ctx context.Context, id string, outcome model.SessionOutcome, confidence, relevance float64, reasoning string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_sessions SET
			outcome = ?, confidence_level = ?, relevance_rating = ?, reasoning = ?, finalized_at = ?
		WHERE id = ?`,
		string(outcome), confidence, relevance, reasoning, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finalize session %s", id)
	}
	return checkNotFound(res)
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.ResearchSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM research_sessions WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if !filter.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.Since)
	}
	if filter.FinalizedOnly {
		query += ` AND finalized_at IS NOT NULL`
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 5000
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var sessions []model.ResearchSession
	for rows.Next() {
		sess, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "sqlite: list sessions iterate")
}

func (s *SQLiteStore) BulkUpsertSessions(ctx context.Context, sessions []model.ResearchSession) (int64, error) {
	if len(sessions) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin bulk upsert")
	}
	defer tx.Rollback()

	var count int64
	for _, sess := range sessions {
		featuresJSON, err := json.Marshal(sess.Features)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal session features")
		}
		telemetryJSON, err := json.Marshal(sess.Telemetry)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal session telemetry")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO research_sessions
				(id, user_id, profile_url, features, telemetry, outcome, confidence_level,
				relevance_rating, reasoning, started_at, finalized_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				features = excluded.features,
				telemetry = excluded.telemetry,
				outcome = excluded.outcome,
				confidence_level = excluded.confidence_level,
				relevance_rating = excluded.relevance_rating,
				reasoning = excluded.reasoning,
				finalized_at = excluded.finalized_at`,
			sess.ID, sess.UserID, sess.ProfileURL, string(featuresJSON), string(telemetryJSON),
			string(sess.Outcome), sess.ConfidenceLevel, sess.RelevanceRating,
			sess.Reasoning, sess.StartedAt, sess.FinalizedAt,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert session %s", sess.ID)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit bulk upsert")
	}
	return count, nil
}

func (s *SQLiteStore) ListActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM research_sessions WHERE started_at >= ?`, since)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active users")
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan user id")
		}
		users = append(users, u)
	}
	return users, eris.Wrap(rows.Err(), "sqlite: list active users iterate")
}

func (s *SQLiteStore) InsertFeedback(ctx context.Context, fb *model.FeedbackInteraction) error {
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	var payload any
	if len(fb.Payload) > 0 {
		payload = string(fb.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback_interactions
			(id, session_id, user_id, profile_url, feedback_type, payload, learning_value, processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		fb.ID, fb.SessionID, fb.UserID, fb.ProfileURL, string(fb.FeedbackType),
		payload, fb.LearningValue, fb.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert feedback %s", fb.ID)
	}
	return nil
}

func (s *SQLiteStore) ListUnprocessedFeedback(ctx context.Context, limit int) ([]model.FeedbackInteraction, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, profile_url, feedback_type, payload,
			learning_value, processed, processing_results, created_at
		FROM feedback_interactions
		WHERE processed = 0
		ORDER BY created_at
		LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unprocessed feedback")
	}
	defer rows.Close()

	var out []model.FeedbackInteraction
	for rows.Next() {
		var fb model.FeedbackInteraction
		var ftype string
		var payload, results sql.NullString
		if err := rows.Scan(&fb.ID, &fb.SessionID, &fb.UserID, &fb.ProfileURL, &ftype,
			&payload, &fb.LearningValue, &fb.Processed, &results, &fb.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feedback")
		}
		fb.FeedbackType = model.FeedbackType(ftype)
		if payload.Valid {
			fb.Payload = json.RawMessage(payload.String)
		}
		if results.Valid {
			fb.ProcessingResults = json.RawMessage(results.String)
		}
		out = append(out, fb)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list unprocessed feedback iterate")
}

func (s *SQLiteStore) MarkFeedbackProcessed(ctx context.Context, id string, results json.RawMessage) error {
	var body any
	if len(results) > 0 {
		body = string(results)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE feedback_interactions SET processed = 1, processing_results = ?
		WHERE id = ? AND processed = 0`,
		body, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark feedback processed %s", id)
	}
	return checkNotFound(res)
}

func (s *SQLiteStore) CreateExperiment(ctx context.Context, e *model.ValidationExperiment) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = model.ExperimentRunning
	}
	body, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal experiment")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO validation_experiments (id, pattern_id, status, final_decision, data, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.PatternID, string(e.Status), string(e.FinalDecision), string(body), e.StartedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: create experiment %s", e.ID)
	}
	return nil
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*model.ValidationExperiment, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM validation_experiments WHERE id = ?`, id,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get experiment %s", id)
	}
	var e model.ValidationExperiment
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal experiment %s", id)
	}
	return &e, nil
}

func (s *SQLiteStore) UpdateExperiment(ctx context.Context, e *model.ValidationExperiment) error {
	body, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal experiment")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE validation_experiments SET status = ?, final_decision = ?, data = ?, concluded_at = ?
		WHERE id = ?`,
		string(e.Status), string(e.FinalDecision), string(body), e.ConcludedAt, e.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update experiment %s", e.ID)
	}
	return checkNotFound(res)
}

func (s *SQLiteStore) ListRunningExperiments(ctx context.Context) ([]model.ValidationExperiment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM validation_experiments WHERE status = 'running' ORDER BY started_at`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list running experiments")
	}
	defer rows.Close()

	var out []model.ValidationExperiment
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan experiment")
		}
		var e model.ValidationExperiment
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal experiment")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list running experiments iterate")
}

// helpers

func checkNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalPatternFields(p *model.DiscoveredPattern) (trigger, sessions, industries, roles string, err error) {
	triggerJSON, err := json.Marshal(p.Trigger)
	if err != nil {
		return "", "", "", "", eris.Wrap(err, "sqlite: marshal trigger")
	}
	sessionsJSON, err := json.Marshal(nonNil(p.SupportingSessions))
	if err != nil {
		return "", "", "", "", eris.Wrap(err, "sqlite: marshal supporting sessions")
	}
	industriesJSON, _ := json.Marshal(nonNil(p.Industries))
	rolesJSON, _ := json.Marshal(nonNil(p.Roles))
	return string(triggerJSON), string(sessionsJSON), string(industriesJSON), string(rolesJSON), nil
}

func scanSQLitePattern(row rowScanner) (*model.DiscoveredPattern, error) {
	var p model.DiscoveredPattern
	var ptype, outcome, status string
	var triggerJSON, sessionsJSON, industriesJSON, rolesJSON string

	err := row.Scan(&p.ID, &p.UserID, &ptype, &triggerJSON, &outcome,
		&p.ConfidenceScore, &sessionsJSON, &p.ContradictingSessions, &p.AccuracyRate,
		&p.UsageCount, &industriesJSON, &rolesJSON, &status, &p.DiscoveryMethod,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.PatternType = model.PatternType(ptype)
	p.ExpectedOutcome = model.SessionOutcome(outcome)
	p.ValidationStatus = model.ValidationStatus(status)
	if err := json.Unmarshal([]byte(triggerJSON), &p.Trigger); err != nil {
		return nil, eris.Wrap(err, "unmarshal trigger")
	}
	if err := json.Unmarshal([]byte(sessionsJSON), &p.SupportingSessions); err != nil {
		return nil, eris.Wrap(err, "unmarshal supporting sessions")
	}
	if err := json.Unmarshal([]byte(industriesJSON), &p.Industries); err != nil {
		return nil, eris.Wrap(err, "unmarshal industries")
	}
	if err := json.Unmarshal([]byte(rolesJSON), &p.Roles); err != nil {
		return nil, eris.Wrap(err, "unmarshal roles")
	}
	return &p, nil
}

func scanSQLiteSession(row rowScanner) (*model.ResearchSession, error) {
	var sess model.ResearchSession
	var outcome string
	var featuresJSON, telemetryJSON string
	var finalizedAt sql.NullTime

	err := row.Scan(&sess.ID, &sess.UserID, &sess.ProfileURL, &featuresJSON, &telemetryJSON,
		&outcome, &sess.ConfidenceLevel, &sess.RelevanceRating, &sess.Reasoning,
		&sess.StartedAt, &finalizedAt)
	if err != nil {
		return nil, err
	}

	sess.Outcome = model.SessionOutcome(outcome)
	if finalizedAt.Valid {
		t := finalizedAt.Time
		sess.FinalizedAt = &t
	}
	if err := json.Unmarshal([]byte(featuresJSON), &sess.Features); err != nil {
		return nil, eris.Wrap(err, "unmarshal features")
	}
	if err := json.Unmarshal([]byte(telemetryJSON), &sess.Telemetry); err != nil {
		return nil, eris.Wrap(err, "unmarshal telemetry")
	}
	return &sess, nil
}
