package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS course_messages (
	id         TEXT PRIMARY KEY,
	course_id  TEXT        NOT NULL,
	user_id    TEXT        NOT NULL,
	content    TEXT        NOT NULL,
	seq        BIGINT      NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (course_id, seq)
);
CREATE INDEX IF NOT EXISTS course_messages_course_created_idx
	ON course_messages (course_id, created_at DESC);
`

// appendSQL locks the latest row of the course so seq and created_at are
// strictly increasing even when the clock does not move.
const appendSQL = `
WITH last AS (
	SELECT seq, created_at
	FROM course_messages
	WHERE course_id = $1
	ORDER BY seq DESC
	LIMIT 1
	FOR UPDATE
)
INSERT INTO course_messages (id, course_id, user_id, content, seq, created_at)
SELECT $2, $1, $3, $4,
       COALESCE((SELECT seq FROM last), 0) + 1,
       GREATEST(clock_timestamp(),
                COALESCE((SELECT created_at FROM last) + INTERVAL '1 microsecond', clock_timestamp()))
RETURNING seq, created_at
`

const historySQL = `
SELECT id, course_id, user_id, content, seq, created_at
FROM course_messages
WHERE course_id = $1
  AND ($2::timestamptz IS NULL OR created_at < $2)
ORDER BY created_at DESC, seq DESC
LIMIT $3
`
