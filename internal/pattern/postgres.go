package pattern

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-intel/internal/db"
	"github.com/sells-group/contact-intel/internal/model"
)

// PostgresStore implements Store using pgx.
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

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS discovered_patterns (
	id                     TEXT PRIMARY KEY,
	dedup_key              TEXT NOT NULL,
	user_id                TEXT NOT NULL DEFAULT '',
	pattern_type           TEXT NOT NULL,
	trigger_conditions     JSONB NOT NULL,
	expected_outcome       TEXT NOT NULL,
	confidence_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
	supporting_sessions    JSONB NOT NULL DEFAULT '[]',
	contradicting_sessions INTEGER NOT NULL DEFAULT 0,
	accuracy_rate          DOUBLE PRECISION NOT NULL DEFAULT 0,
	usage_count            INTEGER NOT NULL DEFAULT 0,
	industries             JSONB NOT NULL DEFAULT '[]',
	roles                  JSONB NOT NULL DEFAULT '[]',
	validation_status      TEXT NOT NULL DEFAULT 'discovered',
	discovery_method       TEXT NOT NULL DEFAULT '',
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, dedup_key)
);

CREATE INDEX IF NOT EXISTS idx_patterns_user_status ON discovered_patterns(user_id, validation_status);
CREATE INDEX IF NOT EXISTS idx_patterns_confidence ON discovered_patterns(confidence_score DESC);

CREATE TABLE IF NOT EXISTS intelligence_profiles (
	user_id    TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS research_sessions (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	profile_url      TEXT NOT NULL,
	features         JSONB NOT NULL DEFAULT '{}',
	telemetry        JSONB NOT NULL DEFAULT '{}',
	outcome          TEXT NOT NULL DEFAULT '',
	confidence_level DOUBLE PRECISION NOT NULL DEFAULT 0,
	relevance_rating DOUBLE PRECISION NOT NULL DEFAULT 0,
	reasoning        TEXT NOT NULL DEFAULT '',
	started_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	finalized_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_started ON research_sessions(user_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_finalized ON research_sessions(finalized_at);

CREATE TABLE IF NOT EXISTS feedback_interactions (
	id                 TEXT PRIMARY KEY,
	session_id         TEXT NOT NULL,
	user_id            TEXT NOT NULL,
	profile_url        TEXT NOT NULL DEFAULT '',
	feedback_type      TEXT NOT NULL,
	payload            JSONB,
	learning_value     DOUBLE PRECISION NOT NULL DEFAULT 0,
	processed          BOOLEAN NOT NULL DEFAULT false,
	processing_results JSONB,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_feedback_unprocessed ON feedback_interactions(processed, created_at);

CREATE TABLE IF NOT EXISTS validation_experiments (
	id             TEXT PRIMARY KEY,
	pattern_id     TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'running',
	final_decision TEXT NOT NULL DEFAULT '',
	data           JSONB NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	concluded_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_experiments_status ON validation_experiments(status);
CREATE INDEX IF NOT EXISTS idx_experiments_pattern ON validation_experiments(pattern_id);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const patternColumns = `id, user_id, pattern_type, trigger_conditions, expected_outcome,
	confidence_score, supporting_sessions, contradicting_sessions, accuracy_rate,
	usage_count, industries, roles, validation_status, discovery_method, created_at, updated_at`

// SavePattern inserts a new pattern or merges into the structurally identical
// one already stored in the same user scope.
func (s *PostgresStore) SavePattern(ctx context.Context, p *model.DiscoveredPattern) (*model.DiscoveredPattern, bool, error) {
	now := time.Now().UTC()

	existing, err := s.findByDedupKey(ctx, p.UserID, p.DedupKey())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	if existing != nil {
		mergeInto(existing, p, now)
		if err := s.writePattern(ctx, existing, false); err != nil {
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

	if err := s.writePattern(ctx, p, true); err != nil {
		return nil, false, err
	}
	return p, false, nil
}

func (s *PostgresStore) findByDedupKey(ctx context.Context, userID, key string) (*model.DiscoveredPattern, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+patternColumns+` FROM discovered_patterns WHERE user_id = $1 AND dedup_key = $2`,
		userID, key,
	)
	p, err := scanPattern(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: find pattern by dedup key")
	}
	return p, nil
}

func (s *PostgresStore) writePattern(ctx context.Context, p *model.DiscoveredPattern, insert bool) error {
	triggerJSON, err := json.Marshal(p.Trigger)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal trigger")
	}
	sessionsJSON, err := json.Marshal(nonNil(p.SupportingSessions))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal supporting sessions")
	}
	industriesJSON, _ := json.Marshal(nonNil(p.Industries))
	rolesJSON, _ := json.Marshal(nonNil(p.Roles))

	if insert {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO discovered_patterns
				(id, dedup_key, user_id, pattern_type, trigger_conditions, expected_outcome,
				confidence_score, supporting_sessions, contradicting_sessions, accuracy_rate,
				usage_count, industries, roles, validation_status, discovery_method, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			p.ID, p.DedupKey(), p.UserID, string(p.PatternType), triggerJSON, string(p.ExpectedOutcome),
			p.ConfidenceScore, sessionsJSON, p.ContradictingSessions, p.AccuracyRate,
			p.UsageCount, industriesJSON, rolesJSON, string(p.ValidationStatus), p.DiscoveryMethod,
			p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert pattern %s", p.ID)
		}
		return nil
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE discovered_patterns SET
			confidence_score = $2,
			supporting_sessions = $3,
			contradicting_sessions = $4,
			accuracy_rate = $5,
			usage_count = $6,
			updated_at = $7
		WHERE id = $1`,
		p.ID, p.ConfidenceScore, sessionsJSON, p.ContradictingSessions,
		p.AccuracyRate, p.UsageCount, p.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update pattern %s", p.ID)
	}
	return nil
}

// GetPattern returns one pattern by id.
func (s *PostgresStore) GetPattern(ctx context.Context, id string) (*model.DiscoveredPattern, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+patternColumns+` FROM discovered_patterns WHERE id = $1`, id)
	p, err := scanPattern(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get pattern %s", id)
	}
	return p, nil
}

// FindApplicable returns non-archived patterns scoped to the user, industry,
// or role, plus global patterns, ordered by confidence descending.
func (s *PostgresStore) FindApplicable(ctx context.Context, userID string, industries, roles []string) ([]model.DiscoveredPattern, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+patternColumns+` FROM discovered_patterns
		WHERE (user_id = '' OR user_id = $1)
			AND validation_status NOT IN ('archived', 'deprecated')
			AND (industries = '[]'::jsonb OR industries ?| $2)
			AND (roles = '[]'::jsonb OR roles ?| $3)
		ORDER BY confidence_score DESC`,
		userID, lowerAll(industries), lowerAll(roles),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find applicable patterns")
	}
	defer rows.Close()

	return scanPatterns(rows)
}

// ListPatterns returns patterns matching the filter.
func (s *PostgresStore) ListPatterns(ctx context.Context, filter PatternFilter) ([]model.DiscoveredPattern, error) {
	conditions := []string{"1=1"}
	var args []any
	argIdx := 1

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = $"+strconv.Itoa(argIdx))
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, "validation_status = $"+strconv.Itoa(argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.PatternType != "" {
		conditions = append(conditions, "pattern_type = $"+strconv.Itoa(argIdx))
		args = append(args, string(filter.PatternType))
		argIdx++
	}
	if filter.MinConfidence > 0 {
		conditions = append(conditions, "confidence_score >= $"+strconv.Itoa(argIdx))
		args = append(args, filter.MinConfidence)
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + patternColumns + ` FROM discovered_patterns WHERE ` +
		strings.Join(conditions, " AND ") +
		` ORDER BY confidence_score DESC LIMIT $` + strconv.Itoa(argIdx) + ` OFFSET $` + strconv.Itoa(argIdx+1)
	args = append(args, limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list patterns")
	}
	defer rows.Close()

	return scanPatterns(rows)
}

// TransitionStatus moves a pattern through its lifecycle state machine,
// rejecting transitions the machine does not permit.
func (s *PostgresStore) TransitionStatus(ctx context.Context, id string, next model.ValidationStatus) error {
	p, err := s.GetPattern(ctx, id)
	if err != nil {
		return err
	}
	if !p.ValidationStatus.CanTransitionTo(next) {
		return eris.Wrapf(ErrIllegalTransition, "%s -> %s", p.ValidationStatus, next)
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE discovered_patterns SET validation_status = $2, updated_at = $3 WHERE id = $1`,
		id, string(next), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition pattern %s", id)
	}
	return nil
}

// RecordApplication books a real-time application hit or miss against the
// pattern's confidence and accuracy counters.
func (s *PostgresStore) RecordApplication(ctx context.Context, id string, corroborating bool) error {
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
	return s.writePattern(ctx, p, false)
}

// GetOrCreateProfile loads a user's intelligence profile, creating a fresh
// one on first use.
func (s *PostgresStore) GetOrCreateProfile(ctx context.Context, userID string) (*model.UserIntelligenceProfile, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM intelligence_profiles WHERE user_id = $1`, userID,
	).Scan(&data)
	if err == nil {
		var p model.UserIntelligenceProfile
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal profile %s", userID)
		}
		return &p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "postgres: get profile %s", userID)
	}

	p := model.NewUserIntelligenceProfile(userID)
	body, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal profile")
	}
	// Concurrent first sessions race here; the existing row wins.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO intelligence_profiles (user_id, data, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, body, p.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create profile %s", userID)
	}
	return p, nil
}

// UpdateProfile persists profile mutations.
func (s *PostgresStore) UpdateProfile(ctx context.Context, p *model.UserIntelligenceProfile) error {
	body, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal profile")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE intelligence_profiles SET data = $2, updated_at = $3 WHERE user_id = $1`,
		p.UserID, body, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update profile %s", p.UserID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUserData purges everything learned about a user: profile,
// user-scoped patterns, session evidence, and feedback. Global patterns are
// anonymous aggregates and survive.
func (s *PostgresStore) DeleteUserData(ctx context.Context, userID string) error {
	stmts := []string{
		`DELETE FROM intelligence_profiles WHERE user_id = $1`,
		`DELETE FROM discovered_patterns WHERE user_id = $1`,
		`DELETE FROM research_sessions WHERE user_id = $1`,
		`DELETE FROM feedback_interactions WHERE user_id = $1`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt, userID); err != nil {
			return eris.Wrapf(err, "postgres: delete user data %s", userID)
		}
	}
	return nil
}

// SaveSession upserts a research session record.
func (s *PostgresStore) SaveSession(ctx context.Context, sess *model.ResearchSession) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	featuresJSON, err := json.Marshal(sess.Features)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session features")
	}
	telemetryJSON, err := json.Marshal(sess.Telemetry)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session telemetry")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO research_sessions
			(id, user_id, profile_url, features, telemetry, outcome, confidence_level,
			relevance_rating, reasoning, started_at, finalized_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			features = EXCLUDED.features,
			telemetry = EXCLUDED.telemetry,
			outcome = EXCLUDED.outcome,
			confidence_level = EXCLUDED.confidence_level,
			relevance_rating = EXCLUDED.relevance_rating,
			reasoning = EXCLUDED.reasoning,
			finalized_at = EXCLUDED.finalized_at`,
		sess.ID, sess.UserID, sess.ProfileURL, featuresJSON, telemetryJSON,
		string(sess.Outcome), sess.ConfidenceLevel, sess.RelevanceRating,
		sess.Reasoning, sess.StartedAt, sess.FinalizedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save session %s", sess.ID)
	}
	return nil
}

// FinalizeSession records the outcome of a session.
func (s *PostgresStore) FinalizeSession(ctx context.Context, id string, outcome model.SessionOutcome, confidence, relevance float64, reasoning string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_sessions SET
			outcome = $2, confidence_level = $3, relevance_rating = $4,
			reasoning = $5, finalized_at = $6
		WHERE id = $1`,
		id, string(outcome), confidence, relevance, reasoning, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finalize session %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const sessionColumns = `id, user_id, profile_url, features, telemetry, outcome,
	confidence_level, relevance_rating, reasoning, started_at, finalized_at`

// ListSessions returns sessions matching the filter, most recent first.
func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.ResearchSession, error) {
	conditions := []string{"1=1"}
	var args []any
	argIdx := 1

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = $"+strconv.Itoa(argIdx))
		args = append(args, filter.UserID)
		argIdx++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "started_at >= $"+strconv.Itoa(argIdx))
		args = append(args, filter.Since)
		argIdx++
	}
	if filter.FinalizedOnly {
		conditions = append(conditions, "finalized_at IS NOT NULL")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 5000
	}
	query := `SELECT ` + sessionColumns + ` FROM research_sessions WHERE ` +
		strings.Join(conditions, " AND ") +
		` ORDER BY started_at DESC LIMIT $` + strconv.Itoa(argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var sessions []model.ResearchSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// BulkUpsertSessions writes a telemetry batch via COPY + merge.
func (s *PostgresStore) BulkUpsertSessions(ctx context.Context, sessions []model.ResearchSession) (int64, error) {
	if len(sessions) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(sessions))
	for _, sess := range sessions {
		featuresJSON, err := json.Marshal(sess.Features)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal session features")
		}
		telemetryJSON, err := json.Marshal(sess.Telemetry)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal session telemetry")
		}
		rows = append(rows, []any{
			sess.ID, sess.UserID, sess.ProfileURL, featuresJSON, telemetryJSON,
			string(sess.Outcome), sess.ConfidenceLevel, sess.RelevanceRating,
			sess.Reasoning, sess.StartedAt, sess.FinalizedAt,
		})
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "research_sessions",
		Columns: []string{
			"id", "user_id", "profile_url", "features", "telemetry", "outcome",
			"confidence_level", "relevance_rating", "reasoning", "started_at", "finalized_at",
		},
		ConflictKeys: []string{"id"},
	}, rows)
}

// ListActiveUsers returns distinct users with sessions since the cutoff.
func (s *PostgresStore) ListActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT user_id FROM research_sessions WHERE started_at >= $1`, since)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active users")
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, eris.Wrap(err, "postgres: scan user id")
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// InsertFeedback stores a new feedback interaction.
func (s *PostgresStore) InsertFeedback(ctx context.Context, fb *model.FeedbackInteraction) error {
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO feedback_interactions
			(id, session_id, user_id, profile_url, feedback_type, payload, learning_value, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)`,
		fb.ID, fb.SessionID, fb.UserID, fb.ProfileURL, string(fb.FeedbackType),
		nullableJSON(fb.Payload), fb.LearningValue, fb.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert feedback %s", fb.ID)
	}
	return nil
}

// ListUnprocessedFeedback returns feedback awaiting batch processing,
// oldest first.
func (s *PostgresStore) ListUnprocessedFeedback(ctx context.Context, limit int) ([]model.FeedbackInteraction, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, user_id, profile_url, feedback_type, payload,
			learning_value, processed, processing_results, created_at
		FROM feedback_interactions
		WHERE processed = false
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unprocessed feedback")
	}
	defer rows.Close()

	var out []model.FeedbackInteraction
	for rows.Next() {
		var fb model.FeedbackInteraction
		var ftype string
		var payload, results []byte
		if err := rows.Scan(&fb.ID, &fb.SessionID, &fb.UserID, &fb.ProfileURL, &ftype,
			&payload, &fb.LearningValue, &fb.Processed, &results, &fb.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feedback")
		}
		fb.FeedbackType = model.FeedbackType(ftype)
		fb.Payload = payload
		fb.ProcessingResults = results
		out = append(out, fb)
	}
	return out, rows.Err()
}

// MarkFeedbackProcessed consumes a feedback interaction exactly once.
func (s *PostgresStore) MarkFeedbackProcessed(ctx context.Context, id string, results json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE feedback_interactions SET processed = true, processing_results = $2
		WHERE id = $1 AND processed = false`,
		id, nullableJSON(results),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark feedback processed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateExperiment persists a new validation experiment.
func (s *PostgresStore) CreateExperiment(ctx context.Context, e *model.ValidationExperiment) error {
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
		return eris.Wrap(err, "postgres: marshal experiment")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO validation_experiments (id, pattern_id, status, final_decision, data, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.PatternID, string(e.Status), string(e.FinalDecision), body, e.StartedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: create experiment %s", e.ID)
	}
	return nil
}

// GetExperiment returns one experiment by id.
func (s *PostgresStore) GetExperiment(ctx context.Context, id string) (*model.ValidationExperiment, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM validation_experiments WHERE id = $1`, id,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get experiment %s", id)
	}
	var e model.ValidationExperiment
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal experiment %s", id)
	}
	return &e, nil
}

// UpdateExperiment persists experiment mutations.
func (s *PostgresStore) UpdateExperiment(ctx context.Context, e *model.ValidationExperiment) error {
	body, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal experiment")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE validation_experiments SET status = $2, final_decision = $3, data = $4, concluded_at = $5
		WHERE id = $1`,
		e.ID, string(e.Status), string(e.FinalDecision), body, e.ConcludedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update experiment %s", e.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRunningExperiments returns experiments still collecting data.
func (s *PostgresStore) ListRunningExperiments(ctx context.Context) ([]model.ValidationExperiment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM validation_experiments WHERE status = 'running' ORDER BY started_at`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list running experiments")
	}
	defer rows.Close()

	var out []model.ValidationExperiment
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan experiment")
		}
		var e model.ValidationExperiment
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal experiment")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (*model.DiscoveredPattern, error) {
	var p model.DiscoveredPattern
	var ptype, outcome, status string
	var triggerJSON, sessionsJSON, industriesJSON, rolesJSON []byte

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
	if err := json.Unmarshal(triggerJSON, &p.Trigger); err != nil {
		return nil, eris.Wrap(err, "unmarshal trigger")
	}
	if err := json.Unmarshal(sessionsJSON, &p.SupportingSessions); err != nil {
		return nil, eris.Wrap(err, "unmarshal supporting sessions")
	}
	if err := json.Unmarshal(industriesJSON, &p.Industries); err != nil {
		return nil, eris.Wrap(err, "unmarshal industries")
	}
	if err := json.Unmarshal(rolesJSON, &p.Roles); err != nil {
		return nil, eris.Wrap(err, "unmarshal roles")
	}
	return &p, nil
}

func scanPatterns(rows pgx.Rows) ([]model.DiscoveredPattern, error) {
	var out []model.DiscoveredPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan pattern")
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (*model.ResearchSession, error) {
	var sess model.ResearchSession
	var outcome string
	var featuresJSON, telemetryJSON []byte

	err := row.Scan(&sess.ID, &sess.UserID, &sess.ProfileURL, &featuresJSON, &telemetryJSON,
		&outcome, &sess.ConfidenceLevel, &sess.RelevanceRating, &sess.Reasoning,
		&sess.StartedAt, &sess.FinalizedAt)
	if err != nil {
		return nil, err
	}

	sess.Outcome = model.SessionOutcome(outcome)
	if err := json.Unmarshal(featuresJSON, &sess.Features); err != nil {
		return nil, eris.Wrap(err, "unmarshal features")
	}
	if err := json.Unmarshal(telemetryJSON, &sess.Telemetry); err != nil {
		return nil, eris.Wrap(err, "unmarshal telemetry")
	}
	return &sess, nil
}

// lowerScope normalizes scope values so membership checks are
// case-insensitive in SQL.
func lowerScope(p *model.DiscoveredPattern) {
	p.Industries = lowerAll(p.Industries)
	p.Roles = lowerAll(p.Roles)
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
