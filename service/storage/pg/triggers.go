package pg

import (
	"context"
	"fmt"

	"chatwave/service/notify"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// trigger describes one AFTER ... FOR EACH ROW trigger and the json payload
// it sends. Payloads are built from scalar columns only.
type trigger struct {
	kind    notify.Kind
	table   string
	events  string // e.g. "INSERT OR DELETE"
	payload string // json_build_object args, %[1]s is the row variable
}

var triggers = []trigger{
	{
		kind:    notify.KindUnreadChanged,
		table:   "unread_messages",
		events:  "INSERT OR DELETE",
		payload: `'user_id', %[1]s.user_id`,
	},
	{
		kind:    notify.KindMembershipChanged,
		table:   "conversations_members",
		events:  "INSERT OR DELETE",
		payload: `'user_id', %[1]s.user_id, 'conversation_id', %[1]s.conversation_id`,
	},
	{
		kind:    notify.KindUserDeleted,
		table:   "users",
		events:  "DELETE",
		payload: `'user_id', %[1]s.id, 'artifact', %[1]s.avatar_name`,
	},
	{
		kind:    notify.KindConversationDeleted,
		table:   "conversations",
		events:  "DELETE",
		payload: `'conversation_id', %[1]s.id, 'artifact', %[1]s.avatar_url`,
	},
	{
		kind:    notify.KindMessageDeleted,
		table:   "messages",
		events:  "DELETE",
		payload: `'message_id', %[1]s.id, 'artifact', %[1]s.content_url`,
	},
}

// TriggerSQL renders the statements for one schema, in execution order.
func TriggerSQL(schema string) []string {
	qual := func(name string) string {
		if schema == "" {
			return pgx.Identifier{name}.Sanitize()
		}
		return pgx.Identifier{schema, name}.Sanitize()
	}

	stmts := []string{
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS delivered_at timestamptz`, qual("unread_messages")),
	}
	for _, t := range triggers {
		channel := t.kind.Channel()
		fn := qual(channel + "_notify")
		trg := pgx.Identifier{channel + "_trigger"}.Sanitize()

		stmts = append(stmts,
			fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS TRIGGER AS $$
BEGIN
    IF TG_OP = 'DELETE' THEN
        PERFORM pg_notify('%s', json_build_object(%s)::text);
    ELSE
        PERFORM pg_notify('%s', json_build_object(%s)::text);
    END IF;
    RETURN NULL;
END;
$$ LANGUAGE plpgsql`, fn, channel, fmt.Sprintf(t.payload, "OLD"), channel, fmt.Sprintf(t.payload, "NEW")),
			fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s`, trg, qual(t.table)),
			fmt.Sprintf(`CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW EXECUTE FUNCTION %s()`,
				trg, t.events, qual(t.table), fn),
		)
	}
	return stmts
}

// InstallTriggers (re)creates every notify function and trigger in one
// transaction. pg_notify only delivers on commit of the mutating transaction.
func InstallTriggers(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, stmt := range TriggerSQL(schema) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("install triggers: %w", err)
			}
		}
		return nil
	})
}
