package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/rl1809/ticket-reservation/internal/core/domain"
)

const mysqlDuplicateEntry = 1062

// Schema creates the tables used by MySQLAdapter. Child rows cascade with
// their event.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id VARCHAR(128) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT,
		location VARCHAR(255) NOT NULL DEFAULT '',
		organizer VARCHAR(255) NOT NULL DEFAULT '',
		category VARCHAR(255) NOT NULL DEFAULT '',
		start_date DATETIME(6) NULL,
		end_date DATETIME(6) NULL,
		total_available_tickets INT NOT NULL,
		lowest_price DOUBLE NOT NULL,
		version INT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_categories (
		event_id VARCHAR(128) NOT NULL,
		position INT NOT NULL,
		type VARCHAR(128) NOT NULL,
		price DOUBLE NOT NULL,
		initial_quantity INT NOT NULL,
		available_quantity INT NOT NULL,
		PRIMARY KEY (event_id, type),
		FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		event_id VARCHAR(128) NOT NULL,
		order_id VARCHAR(128) NOT NULL,
		ticket_type VARCHAR(128) NOT NULL,
		quantity INT NOT NULL,
		expires_at DATETIME(6) NOT NULL,
		confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (event_id, order_id),
		INDEX idx_reservations_expires_at (expires_at),
		FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS reservation_settlements (
		event_id VARCHAR(128) NOT NULL,
		order_id VARCHAR(128) NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		settled_at DATETIME(6) NOT NULL,
		PRIMARY KEY (event_id, order_id),
		FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE
	)`,
}

// MySQLAdapter stores events in normalized tables. The events row carries the
// version column; a save only applies when it still matches.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// EnsureSchema creates missing tables.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "apply schema")
		}
	}
	return nil
}

func (m *MySQLAdapter) CreateEvent(ctx context.Context, event *domain.Event) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, name, description, location, organizer, category, start_date, end_date,
			total_available_tickets, lowest_price, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		event.ID, event.Name, event.Description, event.Location, event.Organizer, event.Category,
		nullTime(event.StartDate), nullTime(event.EndDate),
		event.TotalAvailableTickets, event.LowestPrice, event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			return domain.ErrEventExists
		}
		return errors.Wrap(err, "insert event")
	}

	for i, c := range event.TicketCategories {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ticket_categories (event_id, position, type, price, initial_quantity, available_quantity)
			VALUES (?, ?, ?, ?, ?, ?)`,
			event.ID, i, c.Type, c.Price, c.InitialQuantity, c.AvailableQuantity,
		)
		if err != nil {
			return errors.Wrapf(err, "insert ticket category %s", c.Type)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	event.Version = 0
	return nil
}

func (m *MySQLAdapter) LoadEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	var (
		ev                 domain.Event
		description        sql.NullString
		startDate, endDate sql.NullTime
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, description, location, organizer, category, start_date, end_date,
			total_available_tickets, lowest_price, version, created_at, updated_at
		FROM events WHERE id = ?`, eventID,
	).Scan(&ev.ID, &ev.Name, &description, &ev.Location, &ev.Organizer, &ev.Category, &startDate, &endDate,
		&ev.TotalAvailableTickets, &ev.LowestPrice, &ev.Version, &ev.CreatedAt, &ev.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrEventNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query event")
	}
	ev.Description = description.String
	ev.StartDate = startDate.Time
	ev.EndDate = endDate.Time

	if err := loadCategories(ctx, tx, &ev); err != nil {
		return nil, err
	}
	if err := loadReservations(ctx, tx, &ev); err != nil {
		return nil, err
	}
	if err := loadSettlements(ctx, tx, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func loadCategories(ctx context.Context, tx *sql.Tx, ev *domain.Event) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT type, price, initial_quantity, available_quantity
		FROM ticket_categories WHERE event_id = ? ORDER BY position`, ev.ID)
	if err != nil {
		return errors.Wrap(err, "query ticket categories")
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.TicketCategory
		if err := rows.Scan(&c.Type, &c.Price, &c.InitialQuantity, &c.AvailableQuantity); err != nil {
			return errors.Wrap(err, "scan ticket category")
		}
		ev.TicketCategories = append(ev.TicketCategories, c)
	}
	return errors.Wrap(rows.Err(), "iterate ticket categories")
}

func loadReservations(ctx context.Context, tx *sql.Tx, ev *domain.Event) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT order_id, ticket_type, quantity, expires_at, confirmed
		FROM reservations WHERE event_id = ? ORDER BY expires_at, order_id`, ev.ID)
	if err != nil {
		return errors.Wrap(err, "query reservations")
	}
	defer rows.Close()

	for rows.Next() {
		var r domain.Reservation
		if err := rows.Scan(&r.OrderID, &r.TicketType, &r.Quantity, &r.ExpiresAt, &r.Confirmed); err != nil {
			return errors.Wrap(err, "scan reservation")
		}
		ev.Reservations = append(ev.Reservations, r)
	}
	return errors.Wrap(rows.Err(), "iterate reservations")
}

func loadSettlements(ctx context.Context, tx *sql.Tx, ev *domain.Event) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT order_id, outcome, settled_at
		FROM reservation_settlements WHERE event_id = ? ORDER BY settled_at`, ev.ID)
	if err != nil {
		return errors.Wrap(err, "query settlements")
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.Settlement
		if err := rows.Scan(&s.OrderID, &s.Outcome, &s.SettledAt); err != nil {
			return errors.Wrap(err, "scan settlement")
		}
		ev.Settlements = append(ev.Settlements, s)
	}
	return errors.Wrap(rows.Err(), "iterate settlements")
}

func (m *MySQLAdapter) SaveEvent(ctx context.Context, event *domain.Event, expectedVersion int) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE events
		SET start_date = ?, end_date = ?, total_available_tickets = ?, lowest_price = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		nullTime(event.StartDate), nullTime(event.EndDate), event.TotalAvailableTickets, event.LowestPrice,
		event.UpdatedAt, event.ID, expectedVersion,
	)
	if err != nil {
		return errors.Wrap(err, "update event")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, event.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrEventNotFound
		}
		return domain.ErrConcurrentUpdate
	}

	for _, c := range event.TicketCategories {
		_, err = tx.ExecContext(ctx, `
			UPDATE ticket_categories SET available_quantity = ?
			WHERE event_id = ? AND type = ?`,
			c.AvailableQuantity, event.ID, c.Type,
		)
		if err != nil {
			return errors.Wrapf(err, "update ticket category %s", c.Type)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE event_id = ?`, event.ID); err != nil {
		return errors.Wrap(err, "clear reservations")
	}
	for _, r := range event.Reservations {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reservations (event_id, order_id, ticket_type, quantity, expires_at, confirmed)
			VALUES (?, ?, ?, ?, ?, ?)`,
			event.ID, r.OrderID, r.TicketType, r.Quantity, r.ExpiresAt, r.Confirmed,
		)
		if err != nil {
			return errors.Wrapf(err, "insert reservation %s", r.OrderID)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM reservation_settlements WHERE event_id = ?`, event.ID); err != nil {
		return errors.Wrap(err, "clear settlements")
	}
	for _, s := range event.Settlements {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reservation_settlements (event_id, order_id, outcome, settled_at)
			VALUES (?, ?, ?, ?)`,
			event.ID, s.OrderID, s.Outcome, s.SettledAt,
		)
		if err != nil {
			return errors.Wrapf(err, "insert settlement %s", s.OrderID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	event.Version = expectedVersion + 1
	return nil
}

func (m *MySQLAdapter) ListPendingReservations(ctx context.Context) ([]domain.ReservationDeadline, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT event_id, order_id, expires_at FROM reservations ORDER BY expires_at`)
	if err != nil {
		return nil, errors.Wrap(err, "query reservation deadlines")
	}
	defer rows.Close()

	var out []domain.ReservationDeadline
	for rows.Next() {
		var d domain.ReservationDeadline
		if err := rows.Scan(&d.EventID, &d.OrderID, &d.ExpiresAt); err != nil {
			return nil, errors.Wrap(err, "scan reservation deadline")
		}
		out = append(out, d)
	}
	return out, errors.Wrap(rows.Err(), "iterate reservation deadlines")
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
