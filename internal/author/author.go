// Package author stores the guild-scoped member projections attached to
// archived messages.
package author

// Author is a guild-scoped snapshot of a user. The full member projection is
// preferred; when the member is uncached only the message's user view is
// available and the guild fields stay empty.
type Author struct {
	UserID         string
	GuildID        string
	Username       string
	Discriminator  string
	DisplayName    string
	AvatarURL      *string
	Nickname       *string
	GuildAvatarURL *string
}
