package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/kokkai-watch/diet-tracker/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for local
// development and single-node deployments.
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
CREATE TABLE IF NOT EXISTS bills (
	id                  TEXT PRIMARY KEY,
	bill_number         TEXT NOT NULL DEFAULT '',
	title               TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT '',
	stage               TEXT NOT NULL DEFAULT '',
	committee           TEXT NOT NULL DEFAULT '',
	submitter           TEXT NOT NULL DEFAULT '',
	diet_session        INTEGER NOT NULL DEFAULT 0,
	submission_date     DATETIME,
	vote_date           DATETIME,
	vote_results        TEXT NOT NULL DEFAULT '',
	promulgation_date   DATETIME,
	implementation_date DATETIME,
	outline             TEXT NOT NULL DEFAULT '',
	background          TEXT NOT NULL DEFAULT '',
	effects             TEXT NOT NULL DEFAULT '',
	quality_score       REAL NOT NULL DEFAULT 0,
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS bill_snapshots (
	bill_id        TEXT PRIMARY KEY,
	snapshot_time  DATETIME NOT NULL,
	tracked_fields TEXT NOT NULL,
	data_hash      TEXT NOT NULL,
	quality_score  REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS bill_history (
	id               TEXT PRIMARY KEY,
	bill_id          TEXT NOT NULL,
	event_type       TEXT NOT NULL,
	change_type      TEXT NOT NULL,
	recorded_at      DATETIME NOT NULL,
	previous_values  TEXT NOT NULL,
	new_values       TEXT NOT NULL,
	change_summary   TEXT NOT NULL DEFAULT '',
	confidence_score REAL NOT NULL,
	source_system    TEXT NOT NULL,
	metadata         TEXT
);

CREATE TABLE IF NOT EXISTS meetings (
	id           TEXT PRIMARY KEY,
	issue_id     TEXT NOT NULL UNIQUE,
	title        TEXT NOT NULL DEFAULT '',
	house        TEXT NOT NULL DEFAULT '',
	committee    TEXT NOT NULL DEFAULT '',
	diet_session INTEGER NOT NULL DEFAULT 0,
	meeting_date DATETIME NOT NULL,
	video_url    TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS speeches (
	id            TEXT PRIMARY KEY,
	meeting_id    TEXT NOT NULL REFERENCES meetings(id),
	speech_id     TEXT NOT NULL,
	sequence      INTEGER NOT NULL DEFAULT 0,
	speaker_name  TEXT NOT NULL DEFAULT '',
	speaker_group TEXT NOT NULL DEFAULT '',
	speaker_role  TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL,
	needs_review  INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (meeting_id, speech_id)
);

CREATE TABLE IF NOT EXISTS members (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	house      TEXT NOT NULL DEFAULT '',
	party_name TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (name, house)
);

CREATE TABLE IF NOT EXISTS parties (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_bills_updated_at ON bills(updated_at);
CREATE INDEX IF NOT EXISTS idx_bill_history_bill_id ON bill_history(bill_id);
CREATE INDEX IF NOT EXISTS idx_bill_history_recorded_at ON bill_history(recorded_at);
CREATE INDEX IF NOT EXISTS idx_bill_history_change_type ON bill_history(change_type);
CREATE INDEX IF NOT EXISTS idx_meetings_meeting_date ON meetings(meeting_date);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(sqliteMigration, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "sqlite: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListAllBills(ctx context.Context) ([]model.Bill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+billColumns+` FROM bills ORDER BY updated_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list all bills")
	}
	defer rows.Close()
	return scanBillsSQL(rows)
}

func (s *SQLiteStore) ListBillsUpdatedSince(ctx context.Context, since time.Time) ([]model.Bill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+billColumns+` FROM bills WHERE updated_at >= ? ORDER BY updated_at DESC`,
		since.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list bills updated since")
	}
	defer rows.Close()
	return scanBillsSQL(rows)
}

func (s *SQLiteStore) ListBillsByIDs(ctx context.Context, ids []string) ([]model.Bill, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+billColumns+` FROM bills WHERE id IN (`+placeholders+`) ORDER BY updated_at DESC`,
		args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list bills by ids")
	}
	defer rows.Close()
	return scanBillsSQL(rows)
}

func scanBillsSQL(rows *sql.Rows) ([]model.Bill, error) {
	var bills []model.Bill
	for rows.Next() {
		var b model.Bill
		if err := rows.Scan(
			&b.ID, &b.BillNumber, &b.Title, &b.Status, &b.Stage, &b.Committee,
			&b.Submitter, &b.DietSession, &b.SubmissionDate, &b.VoteDate,
			&b.VoteResults, &b.PromulgationDate, &b.ImplementationDate,
			&b.Outline, &b.Background, &b.Effects, &b.QualityScore, &b.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan bill")
		}
		bills = append(bills, b)
	}
	return bills, eris.Wrap(rows.Err(), "sqlite: iterate bills")
}

func (s *SQLiteStore) AppendChanges(ctx context.Context, records []model.HistoryRecord, snapshots []model.BillSnapshot) error {
	if len(records) == 0 && len(snapshots) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append changes")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, rec := range records {
		if err := insertHistorySQL(ctx, tx, rec); err != nil {
			return err
		}
	}

	for _, snap := range snapshots {
		fieldsJSON, err := json.Marshal(snap.TrackedFields)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal snapshot fields")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO bill_snapshots (bill_id, snapshot_time, tracked_fields, data_hash, quality_score)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (bill_id) DO UPDATE SET
			   snapshot_time = excluded.snapshot_time,
			   tracked_fields = excluded.tracked_fields,
			   data_hash = excluded.data_hash,
			   quality_score = excluded.quality_score`,
			snap.BillID, snap.SnapshotTime.UTC(), string(fieldsJSON), snap.DataHash, snap.QualityScore)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert snapshot %s", snap.BillID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit append changes")
}

func (s *SQLiteStore) AppendRecord(ctx context.Context, rec model.HistoryRecord) (model.HistoryRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.HistoryRecord{}, eris.Wrap(err, "sqlite: begin append record")
	}
	defer tx.Rollback() //nolint:errcheck

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if err := insertHistorySQL(ctx, tx, rec); err != nil {
		return model.HistoryRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.HistoryRecord{}, eris.Wrap(err, "sqlite: commit append record")
	}
	return rec, nil
}

func insertHistorySQL(ctx context.Context, tx *sql.Tx, rec model.HistoryRecord) error {
	prevJSON, err := json.Marshal(rec.PreviousValues)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal previous values")
	}
	newJSON, err := json.Marshal(rec.NewValues)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal new values")
	}
	var metaJSON []byte
	if rec.Metadata != nil {
		metaJSON, err = json.Marshal(rec.Metadata)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal metadata")
		}
	}

	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bill_history
		 (id, bill_id, event_type, change_type, recorded_at, previous_values, new_values,
		  change_summary, confidence_score, source_system, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.BillID, string(rec.EventType), string(rec.ChangeType), rec.RecordedAt.UTC(),
		string(prevJSON), string(newJSON), rec.ChangeSummary, rec.ConfidenceScore,
		rec.SourceSystem, nullableString(metaJSON))
	return eris.Wrapf(err, "sqlite: insert history for %s", rec.BillID)
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (s *SQLiteStore) QueryRecords(ctx context.Context, f HistoryFilter) ([]model.HistoryRecord, error) {
	q := sq.Select("id", "bill_id", "event_type", "change_type", "recorded_at",
		"previous_values", "new_values", "change_summary", "confidence_score",
		"source_system", "metadata").
		From("bill_history")

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

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build history query")
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query history")
	}
	defer rows.Close()

	var records []model.HistoryRecord
	for rows.Next() {
		var rec model.HistoryRecord
		var prevJSON, newJSON string
		var metaJSON sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.BillID, &rec.EventType, &rec.ChangeType, &rec.RecordedAt,
			&prevJSON, &newJSON, &rec.ChangeSummary, &rec.ConfidenceScore,
			&rec.SourceSystem, &metaJSON,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history record")
		}
		if err := json.Unmarshal([]byte(prevJSON), &rec.PreviousValues); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal previous values")
		}
		if err := json.Unmarshal([]byte(newJSON), &rec.NewValues); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal new values")
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &rec.Metadata); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal metadata")
			}
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: iterate history")
}

func (s *SQLiteStore) DeleteAgedCorrections(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM bill_history WHERE change_type = ? AND recorded_at < ?`,
		string(model.ChangeCorrection), cutoff.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete aged corrections")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return n, nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, billID string) (*model.BillSnapshot, error) {
	var snap model.BillSnapshot
	var fieldsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT bill_id, snapshot_time, tracked_fields, data_hash, quality_score
		 FROM bill_snapshots WHERE bill_id = ?`,
		billID,
	).Scan(&snap.BillID, &snap.SnapshotTime, &fieldsJSON, &snap.DataHash, &snap.QualityScore)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get snapshot %s", billID)
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &snap.TrackedFields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal snapshot fields")
	}
	return &snap, nil
}

func (s *SQLiteStore) FindMeetingByIssueID(ctx context.Context, issueID string) (*model.Meeting, error) {
	var m model.Meeting
	err := s.db.QueryRowContext(ctx,
		`SELECT id, issue_id, title, house, committee, diet_session, meeting_date, video_url, source, created_at
		 FROM meetings WHERE issue_id = ?`,
		issueID,
	).Scan(&m.ID, &m.IssueID, &m.Title, &m.House, &m.Committee, &m.DietSession,
		&m.MeetingDate, &m.VideoURL, &m.Source, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: find meeting %s", issueID)
	}
	return &m, nil
}

func (s *SQLiteStore) CreateMeeting(ctx context.Context, m model.Meeting) (model.Meeting, error) {
	if existing, err := s.FindMeetingByIssueID(ctx, m.IssueID); err != nil {
		return model.Meeting{}, err
	} else if existing != nil {
		return *existing, nil
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meetings (id, issue_id, title, house, committee, diet_session, meeting_date, video_url, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (issue_id) DO NOTHING`,
		m.ID, m.IssueID, m.Title, m.House, m.Committee, m.DietSession,
		m.MeetingDate.UTC(), m.VideoURL, string(m.Source), m.CreatedAt)
	if err != nil {
		return model.Meeting{}, eris.Wrapf(err, "sqlite: create meeting %s", m.IssueID)
	}
	return m, nil
}

func (s *SQLiteStore) CreateSpeeches(ctx context.Context, speeches []model.Speech) (int, error) {
	if len(speeches) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin create speeches")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	inserted := 0
	for _, sp := range speeches {
		id := sp.ID
		if id == "" {
			id = uuid.New().String()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO speeches
			 (id, meeting_id, speech_id, sequence, speaker_name, speaker_group, speaker_role, body, source, needs_review, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (meeting_id, speech_id) DO NOTHING`,
			id, sp.MeetingID, sp.SpeechID, sp.Sequence, sp.SpeakerName,
			sp.SpeakerGroup, sp.SpeakerRole, sp.Body, string(sp.Source),
			sp.NeedsReview, now)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert speech %s", sp.SpeechID)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit create speeches")
	}
	return inserted, nil
}

func (s *SQLiteStore) FindOrCreateMember(ctx context.Context, name, house, party string) (model.Member, error) {
	var m model.Member
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, house, party_name, created_at FROM members WHERE name = ? AND house = ?`,
		name, house,
	).Scan(&m.ID, &m.Name, &m.House, &m.PartyName, &m.CreatedAt)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Member{}, eris.Wrapf(err, "sqlite: find member %s", name)
	}

	m = model.Member{
		ID:        uuid.New().String(),
		Name:      name,
		House:     house,
		PartyName: party,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO members (id, name, house, party_name, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (name, house) DO NOTHING`,
		m.ID, m.Name, m.House, m.PartyName, m.CreatedAt)
	if err != nil {
		return model.Member{}, eris.Wrapf(err, "sqlite: create member %s", name)
	}
	return m, nil
}

func (s *SQLiteStore) FindOrCreateParty(ctx context.Context, name string) (model.Party, error) {
	var p model.Party
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM parties WHERE name = ?`,
		name,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Party{}, eris.Wrapf(err, "sqlite: find party %s", name)
	}

	p = model.Party{ID: uuid.New().String(), Name: name, CreatedAt: time.Now().UTC()}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO parties (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO NOTHING`,
		p.ID, p.Name, p.CreatedAt)
	if err != nil {
		return model.Party{}, eris.Wrapf(err, "sqlite: create party %s", name)
	}
	return p, nil
}
