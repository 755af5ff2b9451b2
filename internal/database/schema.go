package database

// Schema is the postgres DDL, one statement per entry.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id           UUID PRIMARY KEY,
		username     TEXT NOT NULL UNIQUE,
		is_ephemeral BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS user_ratings (
		user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		game       TEXT NOT NULL,
		rating     INTEGER NOT NULL,
		games      INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, game)
	)`,
	`CREATE TABLE IF NOT EXISTS matches (
		id            UUID PRIMARY KEY,
		game          TEXT NOT NULL,
		status        TEXT NOT NULL,
		start_time    TIMESTAMPTZ NOT NULL,
		last_activity TIMESTAMPTZ NOT NULL,
		end_time      TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS match_actions (
		match_id       UUID NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
		action_index   INTEGER NOT NULL,
		actor_user_id  UUID,
		action_type    TEXT NOT NULL,
		action_payload JSONB NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (match_id, action_index)
	)`,
	`CREATE INDEX IF NOT EXISTS matches_status_idx ON matches (status)`,
}

// Match statuses recorded by the historian.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusAbandoned  = "abandoned"
)

// StatusAfter reports the match status an action type moves a match to, or
// "" when the action leaves the status alone.
func StatusAfter(actionType string) string {
	switch actionType {
	case "match_create", "match_start":
		return StatusInProgress
	case "match_end":
		return StatusCompleted
	case "match_cancel":
		return StatusCancelled
	}
	return ""
}
