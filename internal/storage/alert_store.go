package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/oktriage/first-responder/internal/model"
)

// AlertStore persists alert records in SQLite, keyed by alert id with a
// secondary index on (severity, timestamp). Records are never deleted by
// the pipeline; retention is an external policy.
type AlertStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewAlertStore opens (or creates) the alert database at dbPath.
func NewAlertStore(logger *zap.Logger, dbPath string) (*AlertStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Writers from multiple consumer goroutines share this handle.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	store := &AlertStore{
		logger: logger,
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *AlertStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			alert_id TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			severity TEXT NOT NULL,
			source TEXT NOT NULL,
			message TEXT NOT NULL,
			log_group TEXT,
			log_stream TEXT,
			infra_context TEXT,
			analysis TEXT,
			ticket_ref TEXT,
			ticket_url TEXT,
			ticket_claimed INTEGER NOT NULL DEFAULT 0,
			acknowledged INTEGER NOT NULL DEFAULT 0,
			acknowledged_by TEXT,
			acknowledged_at INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_severity_ts ON alerts(severity, timestamp);
		CREATE INDEX IF NOT EXISTS idx_alerts_source ON alerts(source);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Create inserts a new alert. Returns model.ErrAlertExists if the id is
// already stored.
func (s *AlertStore) Create(ctx context.Context, alert *model.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			alert_id, timestamp, severity, source, message, log_group, log_stream
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		alert.AlertID,
		alert.Timestamp,
		alert.Severity,
		alert.Source,
		alert.Message,
		nullable(alert.LogGroup),
		nullable(alert.LogStream),
	)
	if err != nil {
		if sqliteErr, ok := err.(sqlite3.Error); ok &&
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: %s", model.ErrAlertExists, alert.AlertID)
		}
		return fmt.Errorf("failed to store alert: %w", err)
	}
	return nil
}

// Get retrieves an alert by id. Returns model.ErrAlertNotFound if absent.
func (s *AlertStore) Get(ctx context.Context, alertID string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT alert_id, timestamp, severity, source, message,
			log_group, log_stream, infra_context, analysis,
			ticket_ref, ticket_url, acknowledged, acknowledged_by, acknowledged_at
		FROM alerts
		WHERE alert_id = ?`, alertID)

	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", model.ErrAlertNotFound, alertID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	return alert, nil
}

// SetAnalysis attaches the analysis result and the gathered infrastructure
// context to an existing alert. Returns model.ErrAlertNotFound if the alert
// is missing, which callers treat as a permanent failure.
func (s *AlertStore) SetAnalysis(ctx context.Context, alertID, analysis string, infraContext []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET analysis = ?, infra_context = ?
		WHERE alert_id = ?`,
		analysis,
		nullable(string(infraContext)),
		alertID,
	)
	if err != nil {
		return fmt.Errorf("failed to update analysis: %w", err)
	}
	return s.checkAffected(res, alertID)
}

// Acknowledge records that a human acknowledged the alert.
func (s *AlertStore) Acknowledge(ctx context.Context, alertID, user string, atMillis int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET acknowledged = 1, acknowledged_by = ?, acknowledged_at = ?
		WHERE alert_id = ?`,
		user, atMillis, alertID,
	)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	return s.checkAffected(res, alertID)
}

// ClaimTicket atomically claims ticket creation for the alert. Exactly one
// caller wins; the rest get model.ErrTicketClaimed. The claim survives until
// ReleaseTicketClaim or SetTicket, so duplicate action messages cannot race
// two ticket-creation calls past each other.
func (s *AlertStore) ClaimTicket(ctx context.Context, alertID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET ticket_claimed = 1
		WHERE alert_id = ? AND ticket_claimed = 0 AND ticket_ref IS NULL`,
		alertID,
	)
	if err != nil {
		return fmt.Errorf("failed to claim ticket: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 1 {
		return nil
	}
	// Distinguish a lost claim from a missing alert.
	if _, err := s.Get(ctx, alertID); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", model.ErrTicketClaimed, alertID)
}

// ReleaseTicketClaim undoes a claim after a failed ticket-creation call so a
// redelivered action message can retry.
func (s *AlertStore) ReleaseTicketClaim(ctx context.Context, alertID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET ticket_claimed = 0
		WHERE alert_id = ? AND ticket_ref IS NULL`,
		alertID,
	)
	if err != nil {
		return fmt.Errorf("failed to release ticket claim: %w", err)
	}
	return s.checkAffected(res, alertID)
}

// SetTicket records the created ticket reference.
func (s *AlertStore) SetTicket(ctx context.Context, alertID, ticketRef, ticketURL string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET ticket_ref = ?, ticket_url = ?
		WHERE alert_id = ?`,
		ticketRef, ticketURL, alertID,
	)
	if err != nil {
		return fmt.Errorf("failed to set ticket reference: %w", err)
	}
	return s.checkAffected(res, alertID)
}

// Query returns alerts of the given severity within [fromMillis, toMillis],
// ordered by timestamp ascending.
func (s *AlertStore) Query(ctx context.Context, severity model.Severity, fromMillis, toMillis int64) ([]*model.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT alert_id, timestamp, severity, source, message,
			log_group, log_stream, infra_context, analysis,
			ticket_ref, ticket_url, acknowledged, acknowledged_by, acknowledged_at
		FROM alerts
		WHERE severity = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`,
		severity, fromMillis, toMillis,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return alerts, nil
}

// Close closes the database connection.
func (s *AlertStore) Close() error {
	return s.db.Close()
}

func (s *AlertStore) checkAffected(res sql.Result, alertID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", model.ErrAlertNotFound, alertID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row scanner) (*model.Alert, error) {
	var alert model.Alert
	var logGroup, logStream, infraContext, analysis sql.NullString
	var ticketRef, ticketURL, ackBy sql.NullString
	var acknowledged sql.NullInt64
	var ackAt sql.NullInt64

	err := row.Scan(
		&alert.AlertID,
		&alert.Timestamp,
		&alert.Severity,
		&alert.Source,
		&alert.Message,
		&logGroup,
		&logStream,
		&infraContext,
		&analysis,
		&ticketRef,
		&ticketURL,
		&acknowledged,
		&ackBy,
		&ackAt,
	)
	if err != nil {
		return nil, err
	}

	alert.LogGroup = logGroup.String
	alert.LogStream = logStream.String
	if infraContext.Valid && infraContext.String != "" {
		alert.InfraContext = []byte(infraContext.String)
	}
	alert.Analysis = analysis.String
	alert.TicketRef = ticketRef.String
	alert.TicketURL = ticketURL.String
	alert.Acknowledged = acknowledged.Int64 == 1
	alert.AcknowledgedBy = ackBy.String
	alert.AcknowledgedAt = ackAt.Int64

	return &alert, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
