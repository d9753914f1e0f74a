package db

import (
	"database/sql"

	"github.com/SamR1/fittrackee-federation/domain"
	"github.com/google/uuid"
)

// Actor queries
const (
	sqlInsertActor = `INSERT INTO actors(id, activitypub_id, domain_id, user_id, preferred_username, name, type,
                        public_key, private_key, profile_url, inbox_url, outbox_url, followers_url, following_url,
                        shared_inbox_url, manually_approves_followers, created_at, last_fetch_date)
                        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectActorColumns = `SELECT id, activitypub_id, domain_id, user_id, preferred_username, name, type,
                        public_key, private_key, profile_url, inbox_url, outbox_url, followers_url, following_url,
                        shared_inbox_url, manually_approves_followers, created_at, last_fetch_date FROM actors`
	sqlSelectActorByActivityPubId = sqlSelectActorColumns + ` WHERE activitypub_id = ?`
	sqlSelectActorByUsernameAndDomain = sqlSelectActorColumns + ` WHERE preferred_username = ? AND domain_id = ?`
	sqlSelectActorByUserId            = sqlSelectActorColumns + ` WHERE user_id = ?`
	sqlUpdateActor = `UPDATE actors SET preferred_username = ?, name = ?, public_key = ?, profile_url = ?,
                        inbox_url = ?, outbox_url = ?, followers_url = ?, following_url = ?, shared_inbox_url = ?,
                        manually_approves_followers = ?, last_fetch_date = ? WHERE activitypub_id = ?`
	sqlDeleteActor = `DELETE FROM actors WHERE id = ?`

	sqlUpsertActorStats = `INSERT INTO remote_actor_stats(actor_id, items, followers, following) VALUES (?, ?, ?, ?)
                        ON CONFLICT(actor_id) DO UPDATE SET items = excluded.items, followers = excluded.followers, following = excluded.following`
	sqlSelectActorStats = `SELECT actor_id, items, followers, following FROM remote_actor_stats WHERE actor_id = ?`
	sqlDeleteActorStats = `DELETE FROM remote_actor_stats WHERE actor_id = ?`
)

func (db *DB) CreateActor(a *domain.Actor) error {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActor,
			a.Id.String(),
			a.ActivityPubId,
			a.DomainId.String(),
			a.UserId.String(),
			a.PreferredUsername,
			a.Name,
			string(a.Type),
			a.PublicKey,
			a.PrivateKey,
			a.ProfileURL,
			a.InboxURL,
			a.OutboxURL,
			a.FollowersURL,
			a.FollowingURL,
			a.SharedInboxURL,
			a.ManuallyApprovesFollowers,
			a.CreatedAt,
			a.LastFetchDate,
		)
		return err
	})
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (db *DB) ReadActorByActivityPubId(apId string) (error, *domain.Actor) {
	row := db.db.QueryRow(sqlSelectActorByActivityPubId, apId)
	return scanActor(row)
}

func (db *DB) ReadActorByUsernameAndDomain(username string, domainId uuid.UUID) (error, *domain.Actor) {
	row := db.db.QueryRow(sqlSelectActorByUsernameAndDomain, username, domainId.String())
	return scanActor(row)
}

func (db *DB) ReadActorByUserId(userId uuid.UUID) (error, *domain.Actor) {
	row := db.db.QueryRow(sqlSelectActorByUserId, userId.String())
	return scanActor(row)
}

func (db *DB) UpdateActor(a *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActor,
			a.PreferredUsername,
			a.Name,
			a.PublicKey,
			a.ProfileURL,
			a.InboxURL,
			a.OutboxURL,
			a.FollowersURL,
			a.FollowingURL,
			a.SharedInboxURL,
			a.ManuallyApprovesFollowers,
			a.LastFetchDate,
			a.ActivityPubId,
		)
		return err
	})
}

func (db *DB) DeleteActor(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlDeleteActorStats, id.String()); err != nil {
			return err
		}
		_, err := tx.Exec(sqlDeleteActor, id.String())
		return err
	})
}

func (db *DB) UpsertActorStats(stats *domain.RemoteActorStats) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertActorStats,
			stats.ActorId.String(),
			stats.Items,
			stats.Followers,
			stats.Following,
		)
		return err
	})
}

func (db *DB) ReadActorStats(actorId uuid.UUID) (error, *domain.RemoteActorStats) {
	row := db.db.QueryRow(sqlSelectActorStats, actorId.String())
	var stats domain.RemoteActorStats
	var idStr string
	err := row.Scan(&idStr, &stats.Items, &stats.Followers, &stats.Following)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	stats.ActorId, _ = uuid.Parse(idStr)
	return nil, &stats
}

func scanActor(row *sql.Row) (error, *domain.Actor) {
	var a domain.Actor
	var idStr, domainIdStr, userIdStr, actorType string
	var lastFetch sql.NullTime
	err := row.Scan(
		&idStr,
		&a.ActivityPubId,
		&domainIdStr,
		&userIdStr,
		&a.PreferredUsername,
		&a.Name,
		&actorType,
		&a.PublicKey,
		&a.PrivateKey,
		&a.ProfileURL,
		&a.InboxURL,
		&a.OutboxURL,
		&a.FollowersURL,
		&a.FollowingURL,
		&a.SharedInboxURL,
		&a.ManuallyApprovesFollowers,
		&a.CreatedAt,
		&lastFetch,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	a.Id, _ = uuid.Parse(idStr)
	a.DomainId, _ = uuid.Parse(domainIdStr)
	a.UserId, _ = uuid.Parse(userIdStr)
	a.Type = domain.ActorType(actorType)
	if lastFetch.Valid {
		a.LastFetchDate = &lastFetch.Time
	}
	return nil, &a
}
