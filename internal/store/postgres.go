package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/kokkai-watch/diet-tracker/internal/db"
	"github.com/kokkai-watch/diet-tracker/internal/model"
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

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS bills (
	id                  TEXT PRIMARY KEY,
	bill_number         TEXT NOT NULL DEFAULT '',
	title               TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT '',
	stage               TEXT NOT NULL DEFAULT '',
	committee           TEXT NOT NULL DEFAULT '',
	submitter           TEXT NOT NULL DEFAULT '',
	diet_session        INT NOT NULL DEFAULT 0,
	submission_date     DATE,
	vote_date           DATE,
	vote_results        TEXT NOT NULL DEFAULT '',
	promulgation_date   DATE,
	implementation_date DATE,
	outline             TEXT NOT NULL DEFAULT '',
	background          TEXT NOT NULL DEFAULT '',
	effects             TEXT NOT NULL DEFAULT '',
	quality_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS bill_snapshots (
	bill_id       TEXT PRIMARY KEY,
	snapshot_time TIMESTAMPTZ NOT NULL,
	tracked_fields JSONB NOT NULL,
	data_hash     TEXT NOT NULL,
	quality_score DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS bill_history (
	id               TEXT PRIMARY KEY,
	bill_id          TEXT NOT NULL,
	event_type       TEXT NOT NULL,
	change_type      TEXT NOT NULL,
	recorded_at      TIMESTAMPTZ NOT NULL,
	previous_values  JSONB NOT NULL,
	new_values       JSONB NOT NULL,
	change_summary   TEXT NOT NULL DEFAULT '',
	confidence_score DOUBLE PRECISION NOT NULL,
	source_system    TEXT NOT NULL,
	metadata         JSONB
);

CREATE TABLE IF NOT EXISTS meetings (
	id           TEXT PRIMARY KEY,
	issue_id     TEXT NOT NULL UNIQUE,
	title        TEXT NOT NULL DEFAULT '',
	house        TEXT NOT NULL DEFAULT '',
	committee    TEXT NOT NULL DEFAULT '',
	diet_session INT NOT NULL DEFAULT 0,
	meeting_date DATE NOT NULL,
	video_url    TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS speeches (
	id            TEXT PRIMARY KEY,
	meeting_id    TEXT NOT NULL REFERENCES meetings(id),
	speech_id     TEXT NOT NULL,
	sequence      INT NOT NULL DEFAULT 0,
	speaker_name  TEXT NOT NULL DEFAULT '',
	speaker_group TEXT NOT NULL DEFAULT '',
	speaker_role  TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL,
	needs_review  BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (meeting_id, speech_id)
);

CREATE TABLE IF NOT EXISTS members (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	house      TEXT NOT NULL DEFAULT '',
	party_name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (name, house)
);

CREATE TABLE IF NOT EXISTS parties (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_bills_updated_at ON bills(updated_at);
CREATE INDEX IF NOT EXISTS idx_bill_history_bill_id ON bill_history(bill_id);
CREATE INDEX IF NOT EXISTS idx_bill_history_recorded_at ON bill_history(recorded_at);
CREATE INDEX IF NOT EXISTS idx_bill_history_change_type ON bill_history(change_type);
CREATE INDEX IF NOT EXISTS idx_meetings_meeting_date ON meetings(meeting_date);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const billColumns = `id, bill_number, title, status, stage, committee, submitter, diet_session,
	submission_date, vote_date, vote_results, promulgation_date, implementation_date,
	outline, background, effects, quality_score, updated_at`

func (s *PostgresStore) ListAllBills(ctx context.Context) ([]model.Bill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+billColumns+` FROM bills ORDER BY updated_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list all bills")
	}
	defer rows.Close()
	return scanBills(rows)
}

func (s *PostgresStore) ListBillsUpdatedSince(ctx context.Context, since time.Time) ([]model.Bill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+billColumns+` FROM bills WHERE updated_at >= $1 ORDER BY updated_at DESC`,
		since.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list bills updated since")
	}
	defer rows.Close()
	return scanBills(rows)
}

func (s *PostgresStore) ListBillsByIDs(ctx context.Context, ids []string) ([]model.Bill, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+billColumns+` FROM bills WHERE id = ANY($1) ORDER BY updated_at DESC`,
		ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list bills by ids")
	}
	defer rows.Close()
	return scanBills(rows)
}

func scanBills(rows pgx.Rows) ([]model.Bill, error) {
	var bills []model.Bill
	for rows.Next() {
		var b model.Bill
		if err := rows.Scan(
			&b.ID, &b.BillNumber, &b.Title, &b.Status, &b.Stage, &b.Committee,
			&b.Submitter, &b.DietSession, &b.SubmissionDate, &b.VoteDate,
			&b.VoteResults, &b.PromulgationDate, &b.ImplementationDate,
			&b.Outline, &b.Background, &b.Effects, &b.QualityScore, &b.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan bill")
		}
		bills = append(bills, b)
	}
	return bills, eris.Wrap(rows.Err(), "postgres: iterate bills")
}

// AppendChanges writes history records and upserts current snapshots in one
// transaction. This is the recorder's batch commit boundary: either every
// record and snapshot in the batch lands, or none do.
func (s *PostgresStore) AppendChanges(ctx context.Context, records []model.HistoryRecord, snapshots []model.BillSnapshot) error {
	if len(records) == 0 && len(snapshots) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin append changes")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, rec := range records {
		if err := insertHistoryTx(ctx, tx, rec); err != nil {
			return err
		}
	}

	for _, snap := range snapshots {
		fieldsJSON, err := json.Marshal(snap.TrackedFields)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal snapshot fields")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO bill_snapshots (bill_id, snapshot_time, tracked_fields, data_hash, quality_score)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (bill_id) DO UPDATE SET
			   snapshot_time = EXCLUDED.snapshot_time,
			   tracked_fields = EXCLUDED.tracked_fields,
			   data_hash = EXCLUDED.data_hash,
			   quality_score = EXCLUDED.quality_score`,
			snap.BillID, snap.SnapshotTime, fieldsJSON, snap.DataHash, snap.QualityScore)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert snapshot %s", snap.BillID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit append changes")
}

func (s *PostgresStore) AppendRecord(ctx context.Context, rec model.HistoryRecord) (model.HistoryRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.HistoryRecord{}, eris.Wrap(err, "postgres: begin append record")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if err := insertHistoryTx(ctx, tx, rec); err != nil {
		return model.HistoryRecord{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.HistoryRecord{}, eris.Wrap(err, "postgres: commit append record")
	}
	return rec, nil
}

func insertHistoryTx(ctx context.Context, tx pgx.Tx, rec model.HistoryRecord) error {
	prevJSON, err := json.Marshal(rec.PreviousValues)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal previous values")
	}
	newJSON, err := json.Marshal(rec.NewValues)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal new values")
	}
	var metaJSON []byte
	if rec.Metadata != nil {
		metaJSON, err = json.Marshal(rec.Metadata)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal metadata")
		}
	}

	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO bill_history
		 (id, bill_id, event_type, change_type, recorded_at, previous_values, new_values,
		  change_summary, confidence_score, source_system, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, rec.BillID, string(rec.EventType), string(rec.ChangeType), rec.RecordedAt,
		prevJSON, newJSON, rec.ChangeSummary, rec.ConfidenceScore, rec.SourceSystem, metaJSON)
	return eris.Wrapf(err, "postgres: insert history for %s", rec.BillID)
}

func (s *PostgresStore) QueryRecords(ctx context.Context, f HistoryFilter) ([]model.HistoryRecord, error) {
	q := sq.Select("id", "bill_id", "event_type", "change_type", "recorded_at",
		"previous_values", "new_values", "change_summary", "confidence_score",
		"source_system", "metadata").
		From("bill_history").
		PlaceholderFormat(sq.Dollar)

	if f.BillID != "" {
		q = q.Where(sq.Eq{"bill_id": f.BillID})
	}
	if f.From != nil {
		q = q.Where(sq.GtOrEq{"recorded_at": f.From.UTC()})
	}
	if f.To != nil {
		q = q.Where(sq.LtOrEq{"recorded_at": f.To.UTC()})
	}
	if f.EventType != "" {
		q = q.Where(sq.Eq{"event_type": string(f.EventType)})
	}
	if f.ChangeType != "" {
		q = q.Where(sq.Eq{"change_type": string(f.ChangeType)})
	}
	if f.SourceSystem != "" {
		q = q.Where(sq.Eq{"source_system": f.SourceSystem})
	}
	if f.MinConfidence > 0 {
		q = q.Where(sq.GtOrEq{"confidence_score": f.MinConfidence})
	}

	if f.Ascending {
		q = q.OrderBy("recorded_at ASC")
	} else {
		q = q.OrderBy("recorded_at DESC")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q = q.Limit(uint64(limit))
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build history query")
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query history")
	}
	defer rows.Close()

	var records []model.HistoryRecord
	for rows.Next() {
		var rec model.HistoryRecord
		var prevJSON, newJSON []byte
		var metaJSON []byte
		if err := rows.Scan(
			&rec.ID, &rec.BillID, &rec.EventType, &rec.ChangeType, &rec.RecordedAt,
			&prevJSON, &newJSON, &rec.ChangeSummary, &rec.ConfidenceScore,
			&rec.SourceSystem, &metaJSON,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan history record")
		}
		if err := json.Unmarshal(prevJSON, &rec.PreviousValues); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal previous values")
		}
		if err := json.Unmarshal(newJSON, &rec.NewValues); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal new values")
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal metadata")
			}
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: iterate history")
}

func (s *PostgresStore) DeleteAgedCorrections(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM bill_history WHERE change_type = $1 AND recorded_at < $2`,
		string(model.ChangeCorrection), cutoff.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete aged corrections")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, billID string) (*model.BillSnapshot, error) {
	var snap model.BillSnapshot
	var fieldsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT bill_id, snapshot_time, tracked_fields, data_hash, quality_score
		 FROM bill_snapshots WHERE bill_id = $1`,
		billID,
	).Scan(&snap.BillID, &snap.SnapshotTime, &fieldsJSON, &snap.DataHash, &snap.QualityScore)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get snapshot %s", billID)
	}
	if err := json.Unmarshal(fieldsJSON, &snap.TrackedFields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal snapshot fields")
	}
	return &snap, nil
}

func (s *PostgresStore) FindMeetingByIssueID(ctx context.Context, issueID string) (*model.Meeting, error) {
	var m model.Meeting
	err := s.pool.QueryRow(ctx,
		`SELECT id, issue_id, title, house, committee, diet_session, meeting_date, video_url, source, created_at
		 FROM meetings WHERE issue_id = $1`,
		issueID,
	).Scan(&m.ID, &m.IssueID, &m.Title, &m.House, &m.Committee, &m.DietSession,
		&m.MeetingDate, &m.VideoURL, &m.Source, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: find meeting %s", issueID)
	}
	return &m, nil
}

func (s *PostgresStore) CreateMeeting(ctx context.Context, m model.Meeting) (model.Meeting, error) {
	if existing, err := s.FindMeetingByIssueID(ctx, m.IssueID); err != nil {
		return model.Meeting{}, err
	} else if existing != nil {
		return *existing, nil
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO meetings (id, issue_id, title, house, committee, diet_session, meeting_date, video_url, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (issue_id) DO NOTHING`,
		m.ID, m.IssueID, m.Title, m.House, m.Committee, m.DietSession,
		m.MeetingDate, m.VideoURL, string(m.Source), m.CreatedAt)
	if err != nil {
		return model.Meeting{}, eris.Wrapf(err, "postgres: create meeting %s", m.IssueID)
	}
	return m, nil
}

func (s *PostgresStore) CreateSpeeches(ctx context.Context, speeches []model.Speech) (int, error) {
	if len(speeches) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin create speeches")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	rows := make([][]any, 0, len(speeches))
	for _, sp := range speeches {
		id := sp.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows = append(rows, []any{
			id, sp.MeetingID, sp.SpeechID, sp.Sequence, sp.SpeakerName,
			sp.SpeakerGroup, sp.SpeakerRole, sp.Body, string(sp.Source),
			sp.NeedsReview, now,
		})
	}

	inserted, err := db.BatchInsert(ctx, tx, db.InsertConfig{
		Table: "speeches",
		Columns: []string{
			"id", "meeting_id", "speech_id", "sequence", "speaker_name",
			"speaker_group", "speaker_role", "body", "source", "needs_review", "created_at",
		},
		ConflictKeys: []string{"meeting_id", "speech_id"},
	}, rows)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit create speeches")
	}
	return int(inserted), nil
}

func (s *PostgresStore) FindOrCreateMember(ctx context.Context, name, house, party string) (model.Member, error) {
	var m model.Member
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, house, party_name, created_at FROM members WHERE name = $1 AND house = $2`,
		name, house,
	).Scan(&m.ID, &m.Name, &m.House, &m.PartyName, &m.CreatedAt)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Member{}, eris.Wrapf(err, "postgres: find member %s", name)
	}

	m = model.Member{
		ID:        uuid.New().String(),
		Name:      name,
		House:     house,
		PartyName: party,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO members (id, name, house, party_name, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name, house) DO NOTHING`,
		m.ID, m.Name, m.House, m.PartyName, m.CreatedAt)
	if err != nil {
		return model.Member{}, eris.Wrapf(err, "postgres: create member %s", name)
	}
	return m, nil
}

func (s *PostgresStore) FindOrCreateParty(ctx context.Context, name string) (model.Party, error) {
	var p model.Party
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM parties WHERE name = $1`,
		name,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Party{}, eris.Wrapf(err, "postgres: find party %s", name)
	}

	p = model.Party{ID: uuid.New().String(), Name: name, CreatedAt: time.Now().UTC()}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO parties (id, name, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO NOTHING`,
		p.ID, p.Name, p.CreatedAt)
	if err != nil {
		return model.Party{}, eris.Wrapf(err, "postgres: create party %s", name)
	}
	return p, nil
}
