package gormstore

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS tickets (
		ticket_id INTEGER PRIMARY KEY AUTOINCREMENT,
		last_name TEXT NOT NULL,
		first_name TEXT NOT NULL,
		reason TEXT NULL,
		arrival_time DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'waiting',
		called_room INTEGER NULL,
		called_time DATETIME NULL,
		last_called BOOLEAN NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_status_arrival ON tickets (status, arrival_time, ticket_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_room_current ON tickets (called_room) WHERE last_called = 1 AND status = 'called'`,
	`CREATE TABLE IF NOT EXISTS ticket_action_requests (
		request_id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		room INTEGER NULL,
		ticket_id INTEGER NULL,
		created_at DATETIME NOT NULL
	)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS tickets (
		ticket_id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		last_name VARCHAR(255) NOT NULL,
		first_name VARCHAR(255) NOT NULL,
		reason TEXT NULL,
		arrival_time DATETIME(6) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'waiting',
		called_room INT NULL,
		called_time DATETIME(6) NULL,
		last_called BOOLEAN NOT NULL DEFAULT FALSE,
		INDEX idx_tickets_status_arrival (status, arrival_time, ticket_id),
		INDEX idx_tickets_room (called_room, status, last_called)
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_action_requests (
		request_id VARCHAR(64) NOT NULL PRIMARY KEY,
		action VARCHAR(16) NOT NULL,
		room INT NULL,
		ticket_id BIGINT NULL,
		created_at DATETIME(6) NOT NULL
	)`,
}
