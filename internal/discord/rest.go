package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	apiBase = "https://discord.com/api/v10"
	cdnBase = "https://cdn.discordapp.com"
)

// RESTClient talks to the platform REST API with bot-token auth. Fetched
// members are cached so the batch processor can resolve authors without one
// request per message.
type RESTClient struct {
	http  *http.Client
	base  string
	token string
	log   zerolog.Logger

	mu      sync.RWMutex
	members map[string]*Member
}

// NewRESTClient builds a client. The http.Client is shared and persistent so
// TLS setup is amortized across calls.
func NewRESTClient(token string, logger zerolog.Logger) *RESTClient {
	return &RESTClient{
		http:    &http.Client{Timeout: 30 * time.Second},
		base:    apiBase,
		token:   token,
		log:     logger,
		members: make(map[string]*Member),
	}
}

func (c *RESTClient) do(ctx context.Context, method, path string, out any) error {
	return WithRetry(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bot "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		case resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%s %s: %w", method, path, ErrForbidden)
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
		default:
			return &HTTPError{
				Status:     resp.StatusCode,
				RetryAfter: retryAfter(resp.Header, body),
				Body:       strings.TrimSpace(string(body)),
			}
		}
	})
}

// retryAfter extracts the rate-limit wait from the Retry-After header, falling
// back to the retry_after field in the JSON body.
func retryAfter(h http.Header, body []byte) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.RetryAfter > 0 {
		return time.Duration(payload.RetryAfter * float64(time.Second))
	}
	return 0
}

type wireUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	GlobalName    string `json:"global_name"`
	Avatar        string `json:"avatar"`
}

type wireMember struct {
	User   *wireUser `json:"user"`
	Nick   string    `json:"nick"`
	Avatar string    `json:"avatar"`
}

type wireAttachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
}

type wireMessage struct {
	ID          string           `json:"id"`
	ChannelID   string           `json:"channel_id"`
	GuildID     string           `json:"guild_id"`
	Content     string           `json:"content"`
	Timestamp   time.Time        `json:"timestamp"`
	Author      wireUser         `json:"author"`
	Member      *wireMember      `json:"member"`
	Attachments []wireAttachment `json:"attachments"`
}

type wireChannel struct {
	ID       string `json:"id"`
	GuildID  string `json:"guild_id"`
	Name     string `json:"name"`
	Type     int    `json:"type"`
	Topic    string `json:"topic"`
	Position int    `json:"position"`
	ParentID string `json:"parent_id"`
	NSFW     bool   `json:"nsfw"`
}

type wireGuild struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Icon    string `json:"icon"`
	OwnerID string `json:"owner_id"`
}

func (u *wireUser) toUser() User {
	display := u.GlobalName
	if display == "" {
		display = u.Username
	}
	out := User{
		ID:            u.ID,
		Username:      u.Username,
		Discriminator: u.Discriminator,
		DisplayName:   display,
	}
	if u.Avatar != "" {
		out.AvatarURL = fmt.Sprintf("%s/avatars/%s/%s.png", cdnBase, u.ID, u.Avatar)
	}
	return out
}

func (m *wireMember) toMember(guildID string, fallback *wireUser) *Member {
	user := fallback
	if m.User != nil {
		user = m.User
	}
	if user == nil {
		return nil
	}
	out := &Member{User: user.toUser(), Nickname: m.Nick}
	if m.Avatar != "" {
		out.GuildAvatarURL = fmt.Sprintf("%s/guilds/%s/users/%s/avatars/%s.png", cdnBase, guildID, user.ID, m.Avatar)
	}
	return out
}

func channelTypeFromWire(t int) ChannelType {
	switch t {
	case 2, 13:
		return ChannelVoice
	case 4:
		return ChannelCategory
	case 15, 16:
		return ChannelForum
	default:
		return ChannelText
	}
}

func (m *wireMessage) toMessage(guildID string) *Message {
	out := &Message{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Timestamp: m.Timestamp.UTC(),
		Author:    m.Author.toUser(),
	}
	if out.GuildID == "" {
		out.GuildID = guildID
	}
	if m.Member != nil {
		out.Member = m.Member.toMember(out.GuildID, &m.Author)
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, Attachment(a))
	}
	return out
}

// Channel fetches channel metadata.
func (c *RESTClient) Channel(ctx context.Context, channelID string) (*ChannelInfo, error) {
	var wire wireChannel
	if err := c.do(ctx, http.MethodGet, "/channels/"+channelID, &wire); err != nil {
		return nil, err
	}
	return &ChannelInfo{
		ID:       wire.ID,
		GuildID:  wire.GuildID,
		Name:     wire.Name,
		Type:     channelTypeFromWire(wire.Type),
		Topic:    wire.Topic,
		Position: wire.Position,
		ParentID: wire.ParentID,
		NSFW:     wire.NSFW,
	}, nil
}

// Guild fetches guild metadata. The icon is resolved to a plain CDN URL.
func (c *RESTClient) Guild(ctx context.Context, guildID string) (*GuildInfo, error) {
	var wire wireGuild
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID, &wire); err != nil {
		return nil, err
	}
	info := &GuildInfo{ID: wire.ID, Name: wire.Name, OwnerID: wire.OwnerID}
	if wire.Icon != "" {
		info.IconURL = fmt.Sprintf("%s/icons/%s/%s.png", cdnBase, wire.ID, wire.Icon)
	}
	return info, nil
}

// History returns one page of channel messages. The platform responds newest
// first; OldestFirst reverses the page.
func (c *RESTClient) History(ctx context.Context, channelID string, opts HistoryOptions) ([]*Message, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.BeforeID != "" {
		q.Set("before", opts.BeforeID)
	}
	if opts.AfterID != "" {
		q.Set("after", opts.AfterID)
	}

	var wire []wireMessage
	path := "/channels/" + channelID + "/messages"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	if err := c.do(ctx, http.MethodGet, path, &wire); err != nil {
		return nil, err
	}

	out := make([]*Message, 0, len(wire))
	for i := range wire {
		out = append(out, wire[i].toMessage(""))
	}
	if opts.OldestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// Message fetches a single message by id.
func (c *RESTClient) Message(ctx context.Context, channelID, messageID string) (*Message, error) {
	var wire wireMessage
	if err := c.do(ctx, http.MethodGet, "/channels/"+channelID+"/messages/"+messageID, &wire); err != nil {
		return nil, err
	}
	return wire.toMessage(""), nil
}

// Member resolves a guild member, serving the cache first.
func (c *RESTClient) Member(ctx context.Context, guildID, userID string) (*Member, error) {
	key := guildID + ":" + userID

	c.mu.RLock()
	cached := c.members[key]
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	var wire wireMember
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/members/"+userID, &wire); err != nil {
		return nil, err
	}
	member := wire.toMember(guildID, nil)
	if member == nil {
		return nil, fmt.Errorf("member %s/%s: %w", guildID, userID, ErrNotFound)
	}

	c.mu.Lock()
	c.members[key] = member
	c.mu.Unlock()
	return member, nil
}

// LeaveGuild removes the bot from the guild.
func (c *RESTClient) LeaveGuild(ctx context.Context, guildID string) error {
	return c.do(ctx, http.MethodDelete, "/users/@me/guilds/"+guildID, nil)
}
