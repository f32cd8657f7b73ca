package taskstore

// Schema defines the scheduler's durable state: the task table plus an
// append-only run history. Tasks are never deleted; terminal states are
// recorded in status.
const Schema = `
CREATE TABLE IF NOT EXISTS scheduled_tasks (
    id          TEXT PRIMARY KEY,
    user_key    TEXT NOT NULL,
    tool_name   TEXT NOT NULL,
    args        TEXT NOT NULL DEFAULT '{}',
    schedule    TEXT NOT NULL,
    next_run    TEXT,
    status      TEXT NOT NULL DEFAULT 'active',
    run_count   INTEGER NOT NULL DEFAULT 0,
    last_error  TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_due
    ON scheduled_tasks(status, next_run);

CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_user
    ON scheduled_tasks(user_key);

CREATE TABLE IF NOT EXISTS task_runs (
    id          TEXT PRIMARY KEY,
    task_id     TEXT NOT NULL REFERENCES scheduled_tasks(id),
    started_at  TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    success     INTEGER NOT NULL,
    error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_task_runs_task
    ON task_runs(task_id, started_at);
`
