package db

import (
	"database/sql"
	"log"
)

const (
	sqlCreateDomainsTable = `CREATE TABLE IF NOT EXISTS domains (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		is_allowed INTEGER DEFAULT 1,
		is_local INTEGER DEFAULT 0,
		software_name TEXT DEFAULT '',
		software_version TEXT DEFAULT ''
	)`

	sqlCreateDomainsIndices = `
		CREATE INDEX IF NOT EXISTS idx_domains_name ON domains(name);
		CREATE INDEX IF NOT EXISTS idx_domains_is_local ON domains(is_local);
	`

	sqlCreateUsersTable = `CREATE TABLE IF NOT EXISTS users (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT DEFAULT '',
		is_remote INTEGER DEFAULT 0,
		manually_approves_followers INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateUsersIndices = `
		CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
	`

	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors (
		id TEXT NOT NULL PRIMARY KEY,
		activitypub_id TEXT UNIQUE NOT NULL,
		domain_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		preferred_username TEXT NOT NULL,
		name TEXT DEFAULT '',
		type TEXT DEFAULT 'Person',
		public_key TEXT DEFAULT '',
		private_key TEXT DEFAULT '',
		profile_url TEXT DEFAULT '',
		inbox_url TEXT DEFAULT '',
		outbox_url TEXT DEFAULT '',
		followers_url TEXT DEFAULT '',
		following_url TEXT DEFAULT '',
		shared_inbox_url TEXT DEFAULT '',
		manually_approves_followers INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_fetch_date TIMESTAMP,
		UNIQUE(domain_id, preferred_username)
	)`

	sqlCreateActorsIndices = `
		CREATE INDEX IF NOT EXISTS idx_actors_activitypub_id ON actors(activitypub_id);
		CREATE INDEX IF NOT EXISTS idx_actors_user_id ON actors(user_id);
		CREATE INDEX IF NOT EXISTS idx_actors_domain_id ON actors(domain_id);
	`

	sqlCreateActorStatsTable = `CREATE TABLE IF NOT EXISTS remote_actor_stats (
		actor_id TEXT NOT NULL PRIMARY KEY,
		items INTEGER DEFAULT 0,
		followers INTEGER DEFAULT 0,
		following INTEGER DEFAULT 0
	)`

	sqlCreateSportsTable = `CREATE TABLE IF NOT EXISTS sports (
		id INTEGER NOT NULL PRIMARY KEY,
		label TEXT NOT NULL,
		is_active INTEGER DEFAULT 1
	)`

	// Composite primary key doubles as the concurrency guard: a second
	// insert for the same pair fails with a constraint violation.
	sqlCreateFollowRequestsTable = `CREATE TABLE IF NOT EXISTS follow_requests (
		follower_user_id TEXT NOT NULL,
		followed_user_id TEXT NOT NULL,
		is_approved INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP,
		PRIMARY KEY (follower_user_id, followed_user_id)
	)`

	sqlCreateFollowRequestsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follow_requests_followed ON follow_requests(followed_user_id);
	`

	sqlCreateWorkoutsTable = `CREATE TABLE IF NOT EXISTS workouts (
		id TEXT NOT NULL PRIMARY KEY,
		user_id TEXT NOT NULL,
		sport_id INTEGER NOT NULL,
		title TEXT DEFAULT '',
		workout_date TIMESTAMP NOT NULL,
		distance REAL DEFAULT 0,
		duration INTEGER DEFAULT 0,
		moving INTEGER DEFAULT 0,
		ave_speed REAL DEFAULT 0,
		max_speed REAL DEFAULT 0,
		visibility TEXT DEFAULT 'private',
		ap_id TEXT DEFAULT '',
		remote_url TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		modification_date TIMESTAMP
	)`

	sqlCreateWorkoutsIndices = `
		CREATE INDEX IF NOT EXISTS idx_workouts_user_id ON workouts(user_id);
		CREATE INDEX IF NOT EXISTS idx_workouts_ap_id ON workouts(ap_id);
		CREATE INDEX IF NOT EXISTS idx_workouts_workout_date ON workouts(workout_date DESC);
	`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`
)

// RunMigrations executes all database migrations
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if err := db.createTableIfNotExists(tx, sqlCreateDomainsTable, "domains"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateUsersTable, "users"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateActorsTable, "actors"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateActorStatsTable, "remote_actor_stats"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateSportsTable, "sports"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateFollowRequestsTable, "follow_requests"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateWorkoutsTable, "workouts"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateDeliveryQueueTable, "delivery_queue"); err != nil {
			return err
		}

		if _, err := tx.Exec(sqlCreateDomainsIndices); err != nil {
			log.Printf("Warning: Failed to create domains indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateUsersIndices); err != nil {
			log.Printf("Warning: Failed to create users indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateActorsIndices); err != nil {
			log.Printf("Warning: Failed to create actors indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateFollowRequestsIndices); err != nil {
			log.Printf("Warning: Failed to create follow_requests indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateWorkoutsIndices); err != nil {
			log.Printf("Warning: Failed to create workouts indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateDeliveryQueueIndices); err != nil {
			log.Printf("Warning: Failed to create delivery_queue indices: %v", err)
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	return nil
}
