package db

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/SamR1/fittrackee-federation/domain"
	"github.com/google/uuid"
	"log"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
	"time"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

// ErrAlreadyExists is returned when an insert hits a uniqueness
// constraint. Callers treat it as "row exists", not as a failure.
var ErrAlreadyExists = errors.New("already exists")

const (
	//Domains
	sqlInsertDomain = `INSERT INTO domains(id, name, created_at, is_allowed, is_local, software_name, software_version) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectDomainByName = `SELECT id, name, created_at, is_allowed, is_local, software_name, software_version FROM domains WHERE name = ?`
	sqlSelectLocalDomain  = `SELECT id, name, created_at, is_allowed, is_local, software_name, software_version FROM domains WHERE is_local = 1`
	sqlUpdateDomainSoftware = `UPDATE domains SET software_name = ?, software_version = ? WHERE id = ?`

	//Users
	sqlInsertUser = `INSERT INTO users(id, username, email, is_remote, manually_approves_followers, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectUserById       = `SELECT id, username, email, is_remote, manually_approves_followers, created_at FROM users WHERE id = ?`
	sqlSelectUserByUsername = `SELECT id, username, email, is_remote, manually_approves_followers, created_at FROM users WHERE username = ?`
	sqlUpdateUserApprovalPolicy = `UPDATE users SET manually_approves_followers = ? WHERE id = ?`
	sqlCountLocalUsers          = `SELECT COUNT(*) FROM users WHERE is_remote = 0`

	//Sports
	sqlInsertSport     = `INSERT INTO sports(id, label, is_active) VALUES (?, ?, ?)`
	sqlSelectSportById = `SELECT id, label, is_active FROM sports WHERE id = ?`
)

func (db *DB) CreateDomain(d *domain.Domain) error {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDomain,
			d.Id.String(),
			d.Name,
			d.CreatedAt,
			d.IsAllowed,
			d.IsLocal,
			d.SoftwareName,
			d.SoftwareVersion,
		)
		return err
	})
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (db *DB) ReadDomainByName(name string) (error, *domain.Domain) {
	row := db.db.QueryRow(sqlSelectDomainByName, name)
	return scanDomain(row)
}

func (db *DB) ReadLocalDomain() (error, *domain.Domain) {
	row := db.db.QueryRow(sqlSelectLocalDomain)
	return scanDomain(row)
}

func (db *DB) UpdateDomainSoftware(id uuid.UUID, name string, version string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDomainSoftware, name, version, id.String())
		return err
	})
}

func scanDomain(row *sql.Row) (error, *domain.Domain) {
	var d domain.Domain
	var idStr string
	err := row.Scan(&idStr, &d.Name, &d.CreatedAt, &d.IsAllowed, &d.IsLocal, &d.SoftwareName, &d.SoftwareVersion)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	d.Id, _ = uuid.Parse(idStr)
	return nil, &d
}

func (db *DB) CreateUser(u *domain.User) error {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertUser,
			u.Id.String(),
			u.Username,
			u.Email,
			u.IsRemote,
			u.ManuallyApprovesFollowers,
			u.CreatedAt,
		)
		return err
	})
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (db *DB) ReadUserById(id uuid.UUID) (error, *domain.User) {
	row := db.db.QueryRow(sqlSelectUserById, id.String())
	return scanUser(row)
}

func (db *DB) ReadUserByUsername(username string) (error, *domain.User) {
	row := db.db.QueryRow(sqlSelectUserByUsername, username)
	return scanUser(row)
}

func (db *DB) UpdateUserApprovalPolicy(id uuid.UUID, manuallyApproves bool) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateUserApprovalPolicy, manuallyApproves, id.String())
		return err
	})
}

func (db *DB) CountLocalUsers() (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountLocalUsers).Scan(&count)
	return err, count
}

func scanUser(row *sql.Row) (error, *domain.User) {
	var u domain.User
	var idStr string
	err := row.Scan(&idStr, &u.Username, &u.Email, &u.IsRemote, &u.ManuallyApprovesFollowers, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	u.Id, _ = uuid.Parse(idStr)
	return nil, &u
}

func (db *DB) CreateSport(s *domain.Sport) error {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertSport, s.Id, s.Label, s.IsActive)
		return err
	})
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (db *DB) ReadSportById(id int) (error, *domain.Sport) {
	row := db.db.QueryRow(sqlSelectSportById, id)
	var s domain.Sport
	err := row.Scan(&s.Id, &s.Label, &s.IsActive)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, &s
}

// Open opens a database at the given path and runs the schema setup.
// Tests pass ":memory:".
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	instance := &DB{db: sqlDB}
	if err := instance.RunMigrations(); err != nil {
		return nil, err
	}
	return instance, nil
}

func GetDB() *DB {
	dbOnce.Do(func() {
		// Open database connection
		db, err := sql.Open("sqlite", "database.db")
		if err != nil {
			panic(err)
		}

		// Configure connection pool for concurrent access
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)

		// Try to enable WAL2 mode, fall back to WAL if not supported
		var journalMode string
		err = db.QueryRow("PRAGMA journal_mode=WAL2").Scan(&journalMode)
		if err != nil || journalMode == "delete" {
			// WAL2 not supported, try regular WAL
			err = db.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
			if err != nil {
				log.Printf("Warning: Failed to enable WAL mode: %v", err)
			} else {
				log.Printf("Database journal mode: %s (WAL2 not supported, using WAL)", journalMode)
			}
		} else {
			log.Printf("Database journal mode: %s", journalMode)
		}

		// Optimize PRAGMAs for concurrent federation workload
		// These need to be set as connection defaults
		db.Exec("PRAGMA synchronous = NORMAL")      // Reduces fsync calls
		db.Exec("PRAGMA cache_size = -64000")       // 64MB cache per connection
		db.Exec("PRAGMA temp_store = MEMORY")       // Store temp tables in RAM
		db.Exec("PRAGMA busy_timeout = 5000")       // Wait up to 5s for locks
		db.Exec("PRAGMA foreign_keys = ON")         // Enable FK constraints
		db.Exec("PRAGMA auto_vacuum = INCREMENTAL") // Better performance than FULL

		log.Printf("Database initialized with connection pooling (max 25 connections)")

		dbInstance = &DB{db: db}

		// Run initial schema setup
		err2 := dbInstance.RunMigrations()
		if err2 != nil {
			panic(err2)
		}
	})

	return dbInstance
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

// isUniqueViolation reports whether err is a sqlite uniqueness or
// primary-key constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		return code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY ||
			code == sqlitelib.SQLITE_CONSTRAINT
	}
	return false
}
