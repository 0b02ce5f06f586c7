// Package mailbox implements the mailbox API collaborator against the
// Gmail REST API.
package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/inboxpilot/sync-worker/internal/extract"
	"github.com/inboxpilot/sync-worker/internal/models"
	"github.com/inboxpilot/sync-worker/internal/sync"
)

// Request budget against the remote API; shared across all calls made by
// this client instance.
const (
	rateLimitPerSecond = 20
	rateLimitBurst     = 10
)

type Client struct {
	clientID     string
	clientSecret string
	limiter      *rate.Limiter
	log          zerolog.Logger
}

func NewClient(clientID, clientSecret string, log zerolog.Logger) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		limiter:      rate.NewLimiter(rateLimitPerSecond, rateLimitBurst),
		log:          log.With().Str("component", "mailbox").Logger(),
	}
}

// service builds a Gmail service bound to the caller's access token.
func (c *Client) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return svc, nil
}

// ListThreadIDs fetches one page of thread-id stubs (lightweight, fast).
func (c *Client) ListThreadIDs(ctx context.Context, accessToken, query string, pageSize int, pageToken string) (*sync.ThreadPage, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	listCall := svc.Users.Threads.List("me").MaxResults(int64(pageSize)).Context(ctx)
	if query != "" {
		listCall = listCall.Q(query)
	}
	if pageToken != "" {
		listCall = listCall.PageToken(pageToken)
	}

	resp, err := listCall.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}

	ids := make([]string, 0, len(resp.Threads))
	for _, t := range resp.Threads {
		ids = append(ids, t.Id)
	}

	c.log.Debug().
		Int("ids", len(ids)).
		Int64("estimate", resp.ResultSizeEstimate).
		Bool("has_next", resp.NextPageToken != "").
		Msg("listed thread page")

	return &sync.ThreadPage{
		IDs:            ids,
		NextPageToken:  resp.NextPageToken,
		EstimatedTotal: int(resp.ResultSizeEstimate),
	}, nil
}

// GetThread fetches one complete thread with all of its messages.
func (c *Client) GetThread(ctx context.Context, accessToken, threadID string) (*sync.RawThread, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	thread, err := svc.Users.Threads.Get("me", threadID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get thread %s: %w", threadID, err)
	}

	raw := &sync.RawThread{ExternalID: thread.Id}
	for _, msg := range thread.Messages {
		raw.Messages = append(raw.Messages, convertMessage(msg))
	}
	return raw, nil
}

// ListLabels fetches the account's full label list.
func (c *Client) ListLabels(ctx context.Context, accessToken string) ([]sync.RemoteLabel, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := svc.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}

	labels := make([]sync.RemoteLabel, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		rl := sync.RemoteLabel{
			ExternalID:         l.Id,
			Name:               l.Name,
			Type:               models.LabelTypeUser,
			LabelListVisible:   l.LabelListVisibility != "labelHide",
			MessageListVisible: l.MessageListVisibility != "hide",
		}
		if l.Type == "system" {
			rl.Type = models.LabelTypeSystem
		}
		if l.Color != nil && l.Color.BackgroundColor != "" {
			color := l.Color.BackgroundColor
			rl.Color = &color
		}
		labels = append(labels, rl)
	}
	return labels, nil
}

// GetAttachment fetches one attachment's bytes.
func (c *Client) GetAttachment(ctx context.Context, accessToken, messageID, attachmentID string) ([]byte, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	att, err := svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment %s: %w", attachmentID, err)
	}

	data, err := base64.URLEncoding.DecodeString(att.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment %s: %w", attachmentID, err)
	}
	return data, nil
}

// RefreshAccessToken exchanges the refresh token for a fresh access token.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*sync.TokenRefreshResult, error) {
	config := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}

	token := &oauth2.Token{
		RefreshToken: refreshToken,
	}

	newToken, err := config.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	result := &sync.TokenRefreshResult{
		AccessToken: newToken.AccessToken,
		ExpiresAt:   newToken.Expiry,
	}

	// Keep the old refresh token unless the provider rotated it.
	if newToken.RefreshToken != "" && newToken.RefreshToken != refreshToken {
		result.RefreshToken = newToken.RefreshToken
	} else {
		result.RefreshToken = refreshToken
	}

	c.log.Debug().Time("expires_at", result.ExpiresAt).Msg("access token refreshed")
	return result, nil
}

// convertMessage reshapes a Gmail message into the engine's raw form.
func convertMessage(msg *gmail.Message) sync.RawMessage {
	raw := sync.RawMessage{
		ExternalID:       msg.Id,
		ThreadExternalID: msg.ThreadId,
		Snippet:          msg.Snippet,
		LabelIDs:         msg.LabelIds,
	}

	// Internal date is milliseconds since epoch.
	if msg.InternalDate > 0 {
		raw.InternalDate = time.UnixMilli(msg.InternalDate)
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			raw.Headers = append(raw.Headers, extract.Header{Name: h.Name, Value: h.Value})
		}
		raw.Payload = convertPart(msg.Payload)
	}

	return raw
}

// convertPart recursively reshapes the MIME tree, decoding inline body data.
func convertPart(part *gmail.MessagePart) extract.Part {
	p := extract.Part{
		MimeType: part.MimeType,
		Filename: part.Filename,
	}

	if part.Body != nil {
		p.Size = part.Body.Size
		p.AttachmentID = part.Body.AttachmentId
		if part.Body.Data != "" {
			if decoded, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
				p.Data = decoded
			}
		}
	}

	for _, child := range part.Parts {
		p.Parts = append(p.Parts, convertPart(child))
	}

	return p
}
