package registry

import (
	"database/sql"
	"fmt"
	"time"
)

// ClientRecord persists the durable half of a coordinator.Client record
// across daemon restarts: the fields needed to recreate the remote-proc
// backend and re-seed pending endpoints, not the live runtime state
// (vring pointers, open endpoints) which doesn't survive a restart.
// Grounded on internal/registry/instances.go's Instance shape.
type ClientRecord struct {
	ID           string
	Name         string
	CPU          uint32
	BackendKind  string // "baremetal" or "hypervisor"
	FirmwarePath string
	State        string // rproc.State.String(), last known before shutdown
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SaveClient inserts or replaces a client record.
func (d *DB) SaveClient(c *ClientRecord) error {
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := d.db.Exec(`
		INSERT INTO clients (id, name, cpu, backend_kind, firmware_path, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name          = excluded.name,
			cpu           = excluded.cpu,
			backend_kind  = excluded.backend_kind,
			firmware_path = excluded.firmware_path,
			state         = excluded.state,
			updated_at    = excluded.updated_at
	`, c.ID, c.Name, c.CPU, c.BackendKind, c.FirmwarePath, c.State,
		created.Format(time.RFC3339), time.Now().Format(time.RFC3339))
	return err
}

// GetClient retrieves a client record by id.
func (d *DB) GetClient(id string) (*ClientRecord, error) {
	row := d.db.QueryRow(`
		SELECT id, name, cpu, backend_kind, firmware_path, state, created_at, updated_at
		FROM clients WHERE id = ?
	`, id)
	return scanClient(row)
}

// GetClientByName retrieves a client record by its CLI-assigned name.
func (d *DB) GetClientByName(name string) (*ClientRecord, error) {
	row := d.db.QueryRow(`
		SELECT id, name, cpu, backend_kind, firmware_path, state, created_at, updated_at
		FROM clients WHERE name = ?
	`, name)
	return scanClient(row)
}

// ListClients returns every client record, most recently created first.
func (d *DB) ListClients() ([]*ClientRecord, error) {
	rows, err := d.db.Query(`
		SELECT id, name, cpu, backend_kind, firmware_path, state, created_at, updated_at
		FROM clients ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ClientRecord
	for rows.Next() {
		c, err := scanClientRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateState persists a client's last known remote-proc state.
func (d *DB) UpdateState(id, state string) error {
	res, err := d.db.Exec(`
		UPDATE clients SET state = ?, updated_at = datetime('now') WHERE id = ?
	`, state, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("client %s not found", id)
	}
	return nil
}

// DeleteClient removes a client record.
func (d *DB) DeleteClient(id string) error {
	_, err := d.db.Exec(`DELETE FROM clients WHERE id = ?`, id)
	return err
}

func scanClient(row *sql.Row) (*ClientRecord, error) {
	var c ClientRecord
	var createdStr, updatedStr string

	err := row.Scan(&c.ID, &c.Name, &c.CPU, &c.BackendKind, &c.FirmwarePath, &c.State,
		&createdStr, &updatedStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return &c, nil
}

func scanClientRow(rows *sql.Rows) (*ClientRecord, error) {
	var c ClientRecord
	var createdStr, updatedStr string

	err := rows.Scan(&c.ID, &c.Name, &c.CPU, &c.BackendKind, &c.FirmwarePath, &c.State,
		&createdStr, &updatedStr)
	if err != nil {
		return nil, err
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return &c, nil
}
