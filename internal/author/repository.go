package author

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PGRepository implements author persistence using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed author repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// BulkUpsert writes a batch of authors in one round trip. Conflicts on
// (user_id, guild_id) refresh every mutable column so rescans repair stale
// projections.
func (r *PGRepository) BulkUpsert(ctx context.Context, authors []Author) error {
	if len(authors) == 0 {
		return nil
	}

	userIDs := make([]string, len(authors))
	guildIDs := make([]string, len(authors))
	usernames := make([]string, len(authors))
	discriminators := make([]string, len(authors))
	displayNames := make([]string, len(authors))
	avatars := make([]*string, len(authors))
	nicknames := make([]*string, len(authors))
	guildAvatars := make([]*string, len(authors))
	for i, a := range authors {
		userIDs[i] = a.UserID
		guildIDs[i] = a.GuildID
		usernames[i] = a.Username
		discriminators[i] = a.Discriminator
		displayNames[i] = a.DisplayName
		avatars[i] = a.AvatarURL
		nicknames[i] = a.Nickname
		guildAvatars[i] = a.GuildAvatarURL
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO authors (user_id, guild_id, username, discriminator, display_name, avatar_url, nickname, guild_avatar_url)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::text[], $7::text[], $8::text[])
		ON CONFLICT (user_id, guild_id) DO UPDATE SET
			username = EXCLUDED.username,
			discriminator = EXCLUDED.discriminator,
			display_name = EXCLUDED.display_name,
			avatar_url = EXCLUDED.avatar_url,
			nickname = EXCLUDED.nickname,
			guild_avatar_url = EXCLUDED.guild_avatar_url,
			updated_at = now()`,
		userIDs, guildIDs, usernames, discriminators, displayNames, avatars, nicknames, guildAvatars,
	)
	if err != nil {
		return fmt.Errorf("bulk upsert authors: %w", err)
	}
	return nil
}

// DeleteForGuild removes all author projections for a purged guild.
func (r *PGRepository) DeleteForGuild(ctx context.Context, guildID string) (int64, error) {
	tag, err := r.db.Exec(ctx, "DELETE FROM authors WHERE guild_id = $1", guildID)
	if err != nil {
		return 0, fmt.Errorf("delete guild authors: %w", err)
	}
	return tag.RowsAffected(), nil
}
