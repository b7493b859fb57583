package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relaygrid/fleetsched/internal/domain"
)

// MessageRepo implements domain.MessageRepository over PostgreSQL.
type MessageRepo struct{ pool PgxPool }

// NewMessageRepo constructs a MessageRepo over pool.
func NewMessageRepo(pool PgxPool) *MessageRepo { return &MessageRepo{pool: pool} }

// RandomActive returns one random active Message for groupID and increments
// its usage_count, or ok=false if the group has no active messages.
func (r *MessageRepo) RandomActive(ctx domain.Context, groupID string) (domain.Message, bool, error) {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.RandomActive")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "messages"))

	q := querier(ctx, r.pool)
	row := q.QueryRow(ctx, `
		UPDATE messages SET usage_count = usage_count + 1
		WHERE id = (
			SELECT id FROM messages WHERE group_id = $1 AND is_active = true
			ORDER BY random() LIMIT 1
		)
		RETURNING id, group_id, text, is_active, usage_count`, groupID)

	var m domain.Message
	if err := row.Scan(&m.ID, &m.GroupID, &m.Text, &m.IsActive, &m.UsageCount); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, fmt.Errorf("op=message.random_active: %w", err)
	}
	return m, true, nil
}
