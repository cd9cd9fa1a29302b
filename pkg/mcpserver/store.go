// Package mcpserver implements the tool server: a SQLite-backed customer
// store exposed over HTTP as named tools, plus an SSE audit stream.
package mcpserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrCustomerNotFound is returned for lookups of unknown customer IDs.
var ErrCustomerNotFound = errors.New("customer not found")

// Customer is one row of the customers table.
type Customer struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Ticket is one row of the tickets table.
type Ticket struct {
	ID         int64  `json:"id"`
	CustomerID int64  `json:"customer_id"`
	Issue      string `json:"issue"`
	Priority   string `json:"priority"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

// Interaction is one row of the interactions table.
type Interaction struct {
	ID        int64  `json:"id"`
	Channel   string `json:"channel"`
	Notes     string `json:"notes"`
	CreatedAt string `json:"created_at"`
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS customers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    email TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tickets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    customer_id INTEGER NOT NULL,
    issue TEXT NOT NULL,
    priority TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'open',
    created_at TEXT DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(customer_id) REFERENCES customers(id)
);

CREATE TABLE IF NOT EXISTS interactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    customer_id INTEGER NOT NULL,
    channel TEXT NOT NULL,
    notes TEXT NOT NULL,
    created_at TEXT DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(customer_id) REFERENCES customers(id)
);
`

type seedCustomer struct {
	name, email, status string
}

type seedInteraction struct {
	customerID int64
	channel    string
	notes      string
}

var seedCustomers = []seedCustomer{
	{"Ana Customer", "ana@example.com", "active"},
	{"Brian Blocked", "brian@example.com", "delinquent"},
	{"Cara Care", "cara@example.com", "vip"},
}

var seedInteractions = []seedInteraction{
	{1, "email", "Welcome email sent"},
	{1, "phone", "User reported login issue"},
	{2, "chat", "Billing dispute initiated"},
	{3, "email", "Requested feature roadmap"},
}

// Store wraps the SQLite database behind the tool handlers.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the database at path, applies the
// schema, and seeds sample rows on first run.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM customers").Scan(&count); err != nil {
		return fmt.Errorf("failed to count customers: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, c := range seedCustomers {
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO customers(name, email, status) VALUES (?, ?, ?)",
			c.name, c.email, c.status,
		); err != nil {
			return fmt.Errorf("failed to seed customers: %w", err)
		}
	}
	for _, i := range seedInteractions {
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO interactions(customer_id, channel, notes) VALUES (?, ?, ?)",
			i.customerID, i.channel, i.notes,
		); err != nil {
			return fmt.Errorf("failed to seed interactions: %w", err)
		}
	}
	return nil
}

// GetCustomer fetches a single customer by ID.
func (s *Store) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	var c Customer
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, status, created_at FROM customers WHERE id = ?",
		id,
	).Scan(&c.ID, &c.Name, &c.Email, &c.Status, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query customer %d: %w", id, err)
	}
	return &c, nil
}

// ListCustomers returns up to limit customers, optionally filtered by status.
func (s *Store) ListCustomers(ctx context.Context, status string, limit int) ([]Customer, error) {
	if limit <= 0 {
		limit = 20
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = s.db.QueryContext(ctx,
			"SELECT id, name, email, status, created_at FROM customers WHERE status = ? LIMIT ?",
			status, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT id, name, email, status, created_at FROM customers LIMIT ?",
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	customers := make([]Customer, 0)
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// allowedUpdateFields restricts which customer columns a patch may touch.
var allowedUpdateFields = map[string]bool{
	"name":   true,
	"email":  true,
	"status": true,
}

// UpdateCustomer applies the permitted fields of changes to a customer and
// returns the updated record. Unknown fields are ignored.
func (s *Store) UpdateCustomer(ctx context.Context, id int64, changes map[string]any) (*Customer, error) {
	existing, err := s.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		assignments string
		values      []any
	)
	for _, field := range []string{"name", "email", "status"} {
		val, ok := changes[field]
		if !ok || !allowedUpdateFields[field] {
			continue
		}
		if assignments != "" {
			assignments += ", "
		}
		assignments += field + " = ?"
		values = append(values, val)
	}
	if assignments == "" {
		return existing, nil
	}

	values = append(values, id)
	if _, err := s.db.ExecContext(ctx,
		"UPDATE customers SET "+assignments+" WHERE id = ?", values...,
	); err != nil {
		return nil, fmt.Errorf("failed to update customer %d: %w", id, err)
	}
	return s.GetCustomer(ctx, id)
}

// CreateTicket inserts a new open ticket and returns the full row.
func (s *Store) CreateTicket(ctx context.Context, customerID int64, issue, priority string) (*Ticket, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO tickets (customer_id, issue, priority, status) VALUES (?, ?, ?, 'open')",
		customerID, issue, priority,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read ticket id: %w", err)
	}

	var t Ticket
	err = s.db.QueryRowContext(ctx,
		"SELECT id, customer_id, issue, priority, status, created_at FROM tickets WHERE id = ?",
		id,
	).Scan(&t.ID, &t.CustomerID, &t.Issue, &t.Priority, &t.Status, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read ticket %d: %w", id, err)
	}
	return &t, nil
}

// History returns a customer's interactions, newest first.
func (s *Store) History(ctx context.Context, customerID int64) ([]Interaction, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, channel, notes, created_at FROM interactions WHERE customer_id = ? ORDER BY created_at DESC, id DESC",
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	history := make([]Interaction, 0)
	for rows.Next() {
		var i Interaction
		if err := rows.Scan(&i.ID, &i.Channel, &i.Notes, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		history = append(history, i)
	}
	return history, rows.Err()
}

// AddInteraction records a new interaction entry for a customer.
func (s *Store) AddInteraction(ctx context.Context, customerID int64, channel, notes string) (*Interaction, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO interactions (customer_id, channel, notes) VALUES (?, ?, ?)",
		customerID, channel, notes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add interaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read interaction id: %w", err)
	}

	var i Interaction
	err = s.db.QueryRowContext(ctx,
		"SELECT id, channel, notes, created_at FROM interactions WHERE id = ?",
		id,
	).Scan(&i.ID, &i.Channel, &i.Notes, &i.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read interaction %d: %w", id, err)
	}
	return &i, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
