package db

import (
	"database/sql"
	"time"

	"github.com/SamR1/fittrackee-federation/domain"
	"github.com/google/uuid"
)

// Follow request queries. The composite primary key on
// (follower_user_id, followed_user_id) is the only concurrency guard:
// a concurrent duplicate insert surfaces as ErrAlreadyExists.
const (
	sqlInsertFollowRequest = `INSERT INTO follow_requests(follower_user_id, followed_user_id, is_approved, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectFollowRequest = `SELECT follower_user_id, followed_user_id, is_approved, created_at, updated_at FROM follow_requests WHERE follower_user_id = ? AND followed_user_id = ?`
	sqlUpdateFollowRequest = `UPDATE follow_requests SET is_approved = ?, updated_at = ? WHERE follower_user_id = ? AND followed_user_id = ?`
	sqlDeleteFollowRequest = `DELETE FROM follow_requests WHERE follower_user_id = ? AND followed_user_id = ?`
	sqlSelectFollowerActors = `SELECT actors.id, actors.activitypub_id, actors.domain_id, actors.user_id, actors.preferred_username,
                        actors.name, actors.type, actors.public_key, actors.private_key, actors.profile_url, actors.inbox_url,
                        actors.outbox_url, actors.followers_url, actors.following_url, actors.shared_inbox_url,
                        actors.manually_approves_followers, actors.created_at, actors.last_fetch_date
                        FROM actors INNER JOIN follow_requests ON follow_requests.follower_user_id = actors.user_id
                        WHERE follow_requests.followed_user_id = ? AND follow_requests.is_approved = 1 AND follow_requests.updated_at IS NOT NULL`
	sqlCountFollowers = `SELECT COUNT(*) FROM follow_requests WHERE followed_user_id = ? AND is_approved = 1 AND updated_at IS NOT NULL`
	sqlCountFollowing = `SELECT COUNT(*) FROM follow_requests WHERE follower_user_id = ? AND is_approved = 1 AND updated_at IS NOT NULL`
)

func (db *DB) CreateFollowRequest(fr *domain.FollowRequest) error {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollowRequest,
			fr.FollowerUserId.String(),
			fr.FollowedUserId.String(),
			fr.IsApproved,
			fr.CreatedAt,
			fr.UpdatedAt,
		)
		return err
	})
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (db *DB) ReadFollowRequest(followerUserId uuid.UUID, followedUserId uuid.UUID) (error, *domain.FollowRequest) {
	row := db.db.QueryRow(sqlSelectFollowRequest, followerUserId.String(), followedUserId.String())
	var fr domain.FollowRequest
	var followerStr, followedStr string
	var updatedAt sql.NullTime
	err := row.Scan(&followerStr, &followedStr, &fr.IsApproved, &fr.CreatedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	fr.FollowerUserId, _ = uuid.Parse(followerStr)
	fr.FollowedUserId, _ = uuid.Parse(followedStr)
	if updatedAt.Valid {
		fr.UpdatedAt = &updatedAt.Time
	}
	return nil, &fr
}

func (db *DB) UpdateFollowRequest(fr *domain.FollowRequest) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateFollowRequest,
			fr.IsApproved,
			fr.UpdatedAt,
			fr.FollowerUserId.String(),
			fr.FollowedUserId.String(),
		)
		return err
	})
}

func (db *DB) DeleteFollowRequest(followerUserId uuid.UUID, followedUserId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowRequest, followerUserId.String(), followedUserId.String())
		return err
	})
}

// ReadFollowerActors returns the actors of all approved followers of a user
func (db *DB) ReadFollowerActors(followedUserId uuid.UUID) (error, *[]domain.Actor) {
	rows, err := db.db.Query(sqlSelectFollowerActors, followedUserId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var actors []domain.Actor
	for rows.Next() {
		var a domain.Actor
		var idStr, domainIdStr, userIdStr, actorType string
		var lastFetch sql.NullTime
		if err := rows.Scan(&idStr, &a.ActivityPubId, &domainIdStr, &userIdStr, &a.PreferredUsername,
			&a.Name, &actorType, &a.PublicKey, &a.PrivateKey, &a.ProfileURL, &a.InboxURL,
			&a.OutboxURL, &a.FollowersURL, &a.FollowingURL, &a.SharedInboxURL,
			&a.ManuallyApprovesFollowers, &a.CreatedAt, &lastFetch); err != nil {
			return err, &actors
		}
		a.Id, _ = uuid.Parse(idStr)
		a.DomainId, _ = uuid.Parse(domainIdStr)
		a.UserId, _ = uuid.Parse(userIdStr)
		a.Type = domain.ActorType(actorType)
		if lastFetch.Valid {
			a.LastFetchDate = &lastFetch.Time
		}
		actors = append(actors, a)
	}
	if err = rows.Err(); err != nil {
		return err, &actors
	}
	return nil, &actors
}

func (db *DB) CountFollowers(userId uuid.UUID) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountFollowers, userId.String()).Scan(&count)
	return err, count
}

func (db *DB) CountFollowing(userId uuid.UUID) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountFollowing, userId.String()).Scan(&count)
	return err, count
}

// Workout queries
const (
	sqlInsertWorkout = `INSERT INTO workouts(id, user_id, sport_id, title, workout_date, distance, duration, moving,
                        ave_speed, max_speed, visibility, ap_id, remote_url, created_at, modification_date)
                        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectWorkoutColumns = `SELECT id, user_id, sport_id, title, workout_date, distance, duration, moving,
                        ave_speed, max_speed, visibility, ap_id, remote_url, created_at, modification_date FROM workouts`
	sqlSelectWorkoutById    = sqlSelectWorkoutColumns + ` WHERE id = ?`
	sqlSelectWorkoutByApId  = sqlSelectWorkoutColumns + ` WHERE ap_id = ?`
	sqlSelectPublicWorkouts = sqlSelectWorkoutColumns + ` WHERE visibility = 'public' ORDER BY workout_date DESC LIMIT ?`
	sqlUpdateWorkout        = `UPDATE workouts SET sport_id = ?, title = ?, workout_date = ?, distance = ?, duration = ?,
                        moving = ?, ave_speed = ?, max_speed = ?, visibility = ?, modification_date = ? WHERE id = ?`
	sqlDeleteWorkout       = `DELETE FROM workouts WHERE id = ?`
	sqlCountLocalWorkouts  = `SELECT COUNT(*) FROM workouts WHERE ap_id = ''`
	sqlCountUserWorkouts   = `SELECT COUNT(*) FROM workouts WHERE user_id = ?`
)

func (db *DB) CreateWorkout(w *domain.Workout) error {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertWorkout,
			w.Id.String(),
			w.UserId.String(),
			w.SportId,
			w.Title,
			w.WorkoutDate,
			w.Distance,
			w.Duration,
			w.Moving,
			w.AveSpeed,
			w.MaxSpeed,
			string(w.Visibility),
			w.ApId,
			w.RemoteURL,
			w.CreatedAt,
			w.ModificationDate,
		)
		return err
	})
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (db *DB) ReadWorkoutById(id uuid.UUID) (error, *domain.Workout) {
	row := db.db.QueryRow(sqlSelectWorkoutById, id.String())
	return scanWorkout(row)
}

func (db *DB) ReadWorkoutByApId(apId string) (error, *domain.Workout) {
	row := db.db.QueryRow(sqlSelectWorkoutByApId, apId)
	return scanWorkout(row)
}

func (db *DB) ReadPublicWorkouts(limit int) (error, *[]domain.Workout) {
	rows, err := db.db.Query(sqlSelectPublicWorkouts, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var workouts []domain.Workout
	for rows.Next() {
		var w domain.Workout
		var idStr, userIdStr, visibility string
		var modDate sql.NullTime
		if err := rows.Scan(&idStr, &userIdStr, &w.SportId, &w.Title, &w.WorkoutDate, &w.Distance,
			&w.Duration, &w.Moving, &w.AveSpeed, &w.MaxSpeed, &visibility, &w.ApId, &w.RemoteURL,
			&w.CreatedAt, &modDate); err != nil {
			return err, &workouts
		}
		w.Id, _ = uuid.Parse(idStr)
		w.UserId, _ = uuid.Parse(userIdStr)
		w.Visibility = domain.Visibility(visibility)
		if modDate.Valid {
			w.ModificationDate = &modDate.Time
		}
		workouts = append(workouts, w)
	}
	if err = rows.Err(); err != nil {
		return err, &workouts
	}
	return nil, &workouts
}

func (db *DB) UpdateWorkout(w *domain.Workout) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateWorkout,
			w.SportId,
			w.Title,
			w.WorkoutDate,
			w.Distance,
			w.Duration,
			w.Moving,
			w.AveSpeed,
			w.MaxSpeed,
			string(w.Visibility),
			w.ModificationDate,
			w.Id.String(),
		)
		return err
	})
}

func (db *DB) DeleteWorkout(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteWorkout, id.String())
		return err
	})
}

func (db *DB) CountLocalWorkouts() (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountLocalWorkouts).Scan(&count)
	return err, count
}

func (db *DB) CountUserWorkouts(userId uuid.UUID) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountUserWorkouts, userId.String()).Scan(&count)
	return err, count
}

func scanWorkout(row *sql.Row) (error, *domain.Workout) {
	var w domain.Workout
	var idStr, userIdStr, visibility string
	var modDate sql.NullTime
	err := row.Scan(
		&idStr,
		&userIdStr,
		&w.SportId,
		&w.Title,
		&w.WorkoutDate,
		&w.Distance,
		&w.Duration,
		&w.Moving,
		&w.AveSpeed,
		&w.MaxSpeed,
		&visibility,
		&w.ApId,
		&w.RemoteURL,
		&w.CreatedAt,
		&modDate,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	w.Id, _ = uuid.Parse(idStr)
	w.UserId, _ = uuid.Parse(userIdStr)
	w.Visibility = domain.Visibility(visibility)
	if modDate.Valid {
		w.ModificationDate = &modDate.Time
	}
	return nil, &w
}

// Delivery queue queries
const (
	sqlInsertDeliveryQueue     = `INSERT INTO delivery_queue(id, inbox_uri, activity_json, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, inbox_uri, activity_json, attempts, next_retry_at, created_at FROM delivery_queue WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
	sqlUpdateDeliveryAttempt   = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery          = `DELETE FROM delivery_queue WHERE id = ?`
)

func (db *DB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeliveryQueue,
			item.Id.String(),
			item.InboxURI,
			item.ActivityJSON,
			item.Attempts,
			item.NextRetryAt,
			item.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryQueueItem) {
	rows, err := db.db.Query(sqlSelectPendingDeliveries, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		var idStr string
		if err := rows.Scan(&idStr, &item.InboxURI, &item.ActivityJSON, &item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return err, &items
		}
		item.Id, _ = uuid.Parse(idStr)
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return err, &items
	}
	return nil, &items
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetry, id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}
