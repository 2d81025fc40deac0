package database

import "fmt"

// ServiceStatus is the lightweight replacement for the teacher's full
// maintenance-mode subsystem: a single row that, while set, makes the HTTP
// maintenance middleware refuse every request except CORS preflights and the
// health check (new websocket upgrades included) during a planned restart.
type ServiceStatus struct {
	Maintenance bool   `db:"maintenance"`
	Message     string `db:"message"`
}

// GetServiceStatus reads the current service status row.
func (db *DB) GetServiceStatus() (*ServiceStatus, error) {
	var s ServiceStatus
	if err := db.Get(&s, `SELECT maintenance, message FROM service_status WHERE id = 1`); err != nil {
		return nil, fmt.Errorf("get service status: %w", err)
	}
	return &s, nil
}

// SetServiceStatus updates the maintenance flag and message, used by an
// operator before a planned restart.
func (db *DB) SetServiceStatus(maintenance bool, message string) error {
	_, err := db.Exec(`UPDATE service_status SET maintenance = $1, message = $2 WHERE id = 1`, maintenance, message)
	if err != nil {
		return fmt.Errorf("set service status: %w", err)
	}
	return nil
}
