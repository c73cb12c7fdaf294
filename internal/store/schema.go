package store

// Versioned migrations applied in order at startup. The schema_migrations
// table records what has been applied; each migration runs in its own
// transaction.
//
// delivery_log's composite primary key (enrollment_id, element_id,
// program_day) is what makes ClaimDelivery's INSERT OR IGNORE an
// at-most-once guard: the key either inserts or already exists.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "conversations and messages",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				id TEXT PRIMARY KEY,
				last_activity_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS conversation_participants (
				conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				user_id TEXT NOT NULL,
				role TEXT NOT NULL,
				display_name TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (conversation_id, user_id)
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL REFERENCES conversations(id),
				sender_id TEXT NOT NULL,
				sender_name TEXT NOT NULL,
				sender_role TEXT NOT NULL,
				content TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_conversation
				ON messages(conversation_id, created_at)`,
		},
	},
	{
		version: 2,
		name:    "program templates and enrollments",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS program_templates (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS template_elements (
				id TEXT PRIMARY KEY,
				template_id TEXT NOT NULL REFERENCES program_templates(id),
				week INTEGER NOT NULL,
				day_of_week INTEGER NOT NULL,
				kind TEXT NOT NULL,
				title TEXT NOT NULL,
				body TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_elements_coordinate
				ON template_elements(template_id, week, day_of_week)`,
			`CREATE TABLE IF NOT EXISTS enrollments (
				id TEXT PRIMARY KEY,
				client_id TEXT NOT NULL,
				coach_id TEXT NOT NULL,
				template_id TEXT NOT NULL REFERENCES program_templates(id),
				conversation_id TEXT NOT NULL REFERENCES conversations(id),
				start_date TIMESTAMP NOT NULL,
				active INTEGER NOT NULL DEFAULT 1
			)`,
		},
	},
	{
		version: 3,
		name:    "delivery log",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS delivery_log (
				enrollment_id TEXT NOT NULL,
				element_id TEXT NOT NULL,
				program_day INTEGER NOT NULL,
				delivered_at TIMESTAMP NOT NULL,
				PRIMARY KEY (enrollment_id, element_id, program_day)
			)`,
		},
	},
}
