package gmail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mailpilot-backend/pkg/provider"
)

// TokenUpdateFunc is called when the oauth2 transport refreshes the
// access token, so the new token can be persisted on the mailbox.
type TokenUpdateFunc func(*oauth2.Token) error

type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			fmt.Printf("Failed to update token: %v\n", err)
		}
	}
	return t, nil
}

// Config holds the app-level Gmail credentials shared by all mailboxes.
type Config struct {
	ClientID     string
	ClientSecret string
	// TopicName is the full Pub/Sub topic resource used by Watch.
	TopicName string
}

// Client is a per-mailbox Gmail adapter. One instance is built per
// mailbox with that mailbox's tokens; nothing is shared across mailboxes.
type Client struct {
	srv    *gmail.Service
	email  string
	retry  provider.RetryPolicy
	topic  string
}

// NewClient creates a Gmail service bound to one mailbox's grant.
func NewClient(ctx context.Context, cfg Config, email, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) (*Client, error) {
	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}

	// Only force refresh if we have a refresh token
	if refreshToken != "" {
		token.Expiry = time.Now()
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
	}

	// Wrap token source to detect refreshes
	wrapped := &notifyTokenSource{
		src:      oauthCfg.TokenSource(ctx, token),
		current:  token,
		callback: onTokenRefresh,
	}

	httpClient := oauth2.NewClient(ctx, wrapped)
	srv, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %v", err)
	}

	return &Client{
		srv:   srv,
		email: email,
		retry: provider.DefaultRetryPolicy(),
		topic: cfg.TopicName,
	}, nil
}

func (c *Client) Kind() provider.Kind { return provider.KindGmail }

// wrapErr classifies a Gmail API error into the shared taxonomy.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*googleapi.Error); ok {
		return provider.NewError(provider.KindFromStatus(apiErr.Code), op, err)
	}
	// Non-HTTP failures (network, context) are transient.
	return provider.NewError(provider.Transient, op, err)
}

func (c *Client) GetMessage(ctx context.Context, id string) (*provider.Message, error) {
	var msg *gmail.Message
	err := c.retry.Do(ctx, func() error {
		m, err := c.srv.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		if err != nil {
			return wrapErr("gmail.GetMessage", err)
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return convertMessage(msg), nil
}

func (c *Client) GetThread(ctx context.Context, id string) (*provider.Thread, error) {
	var t *gmail.Thread
	err := c.retry.Do(ctx, func() error {
		resp, err := c.srv.Users.Threads.Get("me", id).Format("full").Context(ctx).Do()
		if err != nil {
			return wrapErr("gmail.GetThread", err)
		}
		t = resp
		return nil
	})
	if err != nil {
		return nil, err
	}

	thread := &provider.Thread{ID: t.Id}
	for _, m := range t.Messages {
		thread.Messages = append(thread.Messages, convertMessage(m))
	}
	return thread, nil
}

// ApplyLabels resolves label names to ids, creating missing user labels,
// then modifies the message. System labels (INBOX, UNREAD, ...) pass
// through by their well-known ids.
func (c *Client) ApplyLabels(ctx context.Context, messageID string, add, remove []string) error {
	addIDs, err := c.resolveLabelIDs(ctx, add, true)
	if err != nil {
		return err
	}
	removeIDs, err := c.resolveLabelIDs(ctx, remove, false)
	if err != nil {
		return err
	}

	req := &gmail.ModifyMessageRequest{AddLabelIds: addIDs, RemoveLabelIds: removeIDs}
	return c.retry.Do(ctx, func() error {
		_, err := c.srv.Users.Messages.Modify("me", messageID, req).Context(ctx).Do()
		return wrapErr("gmail.ApplyLabels", err)
	})
}

// Archive removes the whole thread from the inbox.
func (c *Client) Archive(ctx context.Context, threadID string) error {
	req := &gmail.ModifyThreadRequest{RemoveLabelIds: []string{"INBOX"}}
	return c.retry.Do(ctx, func() error {
		_, err := c.srv.Users.Threads.Modify("me", threadID, req).Context(ctx).Do()
		return wrapErr("gmail.Archive", err)
	})
}

// MoveToFolder maps the folder to a user label and swaps it for INBOX;
// Gmail has no real folders.
func (c *Client) MoveToFolder(ctx context.Context, messageID, folder string) error {
	ids, err := c.resolveLabelIDs(ctx, []string{folder}, true)
	if err != nil {
		return err
	}
	req := &gmail.ModifyMessageRequest{AddLabelIds: ids, RemoveLabelIds: []string{"INBOX"}}
	return c.retry.Do(ctx, func() error {
		_, err := c.srv.Users.Messages.Modify("me", messageID, req).Context(ctx).Do()
		return wrapErr("gmail.MoveToFolder", err)
	})
}

func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"UNREAD"}}
	return c.retry.Do(ctx, func() error {
		_, err := c.srv.Users.Messages.Modify("me", messageID, req).Context(ctx).Do()
		return wrapErr("gmail.MarkRead", err)
	})
}

func (c *Client) MarkSpam(ctx context.Context, messageID string) error {
	req := &gmail.ModifyMessageRequest{AddLabelIds: []string{"SPAM"}, RemoveLabelIds: []string{"INBOX"}}
	return c.retry.Do(ctx, func() error {
		_, err := c.srv.Users.Messages.Modify("me", messageID, req).Context(ctx).Do()
		return wrapErr("gmail.MarkSpam", err)
	})
}

func (c *Client) Trash(ctx context.Context, messageID string) error {
	return c.retry.Do(ctx, func() error {
		_, err := c.srv.Users.Messages.Trash("me", messageID).Context(ctx).Do()
		return wrapErr("gmail.Trash", err)
	})
}

func (c *Client) CreateDraft(ctx context.Context, params provider.DraftParams) (string, error) {
	raw, err := buildRawMessage(params, c.email)
	if err != nil {
		return "", provider.NewError(provider.Permanent, "gmail.CreateDraft", err)
	}

	draft := &gmail.Draft{
		Message: &gmail.Message{Raw: raw, ThreadId: params.ThreadID},
	}

	var id string
	err = c.retry.Do(ctx, func() error {
		resp, err := c.srv.Users.Drafts.Create("me", draft).Context(ctx).Do()
		if err != nil {
			return wrapErr("gmail.CreateDraft", err)
		}
		id = resp.Id
		return nil
	})
	return id, err
}

func (c *Client) SendReply(ctx context.Context, params provider.DraftParams) error {
	raw, err := buildRawMessage(params, c.email)
	if err != nil {
		return provider.NewError(provider.Permanent, "gmail.SendReply", err)
	}

	msg := &gmail.Message{Raw: raw, ThreadId: params.ThreadID}
	return c.retry.Do(ctx, func() error {
		_, err := c.srv.Users.Messages.Send("me", msg).Context(ctx).Do()
		return wrapErr("gmail.SendReply", err)
	})
}

// Forward fetches the original message and sends it on with a note.
func (c *Client) Forward(ctx context.Context, params provider.ForwardParams) error {
	original, err := c.GetMessage(ctx, params.MessageID)
	if err != nil {
		return err
	}

	body := params.Note
	if body != "" {
		body += "\n\n"
	}
	body += fmt.Sprintf("---------- Forwarded message ----------\nFrom: %s\nSubject: %s\n\n%s",
		original.From, original.Subject, original.TextBody)

	subject := original.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "fwd:") {
		subject = "Fwd: " + subject
	}

	return c.SendEmail(ctx, provider.DraftParams{
		To:      params.To,
		Subject: subject,
		Body:    body,
	})
}

func (c *Client) SendEmail(ctx context.Context, params provider.DraftParams) error {
	raw, err := buildRawMessage(params, c.email)
	if err != nil {
		return provider.NewError(provider.Permanent, "gmail.SendEmail", err)
	}

	msg := &gmail.Message{Raw: raw}
	return c.retry.Do(ctx, func() error {
		_, err := c.srv.Users.Messages.Send("me", msg).Context(ctx).Do()
		return wrapErr("gmail.SendEmail", err)
	})
}

// GetHistorySince lists message ids added after the given history id.
// A 404 means the cursor is too old for Gmail's history window; the
// mailbox re-baselines at the current profile history id so processing
// resumes instead of wedging.
func (c *Client) GetHistorySince(ctx context.Context, cursor string) (*provider.Delta, error) {
	if cursor == "" {
		return c.baseline(ctx)
	}

	startID, err := parseHistoryID(cursor)
	if err != nil {
		return c.baseline(ctx)
	}

	delta := &provider.Delta{NewCursor: cursor}
	seen := make(map[string]bool)
	pageToken := ""

	for {
		call := c.srv.Users.History.List("me").
			StartHistoryId(startID).
			HistoryTypes("messageAdded").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *gmail.ListHistoryResponse
		err := c.retry.Do(ctx, func() error {
			r, err := call.Do()
			if err != nil {
				return wrapErr("gmail.GetHistorySince", err)
			}
			resp = r
			return nil
		})
		if err != nil {
			if provider.IsPermanent(err) {
				return c.baseline(ctx)
			}
			return nil, err
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message != nil && !seen[added.Message.Id] {
					seen[added.Message.Id] = true
					delta.NewMessageIDs = append(delta.NewMessageIDs, added.Message.Id)
				}
			}
		}
		if resp.HistoryId > 0 {
			delta.NewCursor = fmt.Sprintf("%d", resp.HistoryId)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return delta, nil
}

// baseline returns the current profile history id with no message ids,
// establishing a fresh checkpoint.
func (c *Client) baseline(ctx context.Context) (*provider.Delta, error) {
	var profile *gmail.Profile
	err := c.retry.Do(ctx, func() error {
		p, err := c.srv.Users.GetProfile("me").Context(ctx).Do()
		if err != nil {
			return wrapErr("gmail.GetProfile", err)
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &provider.Delta{NewCursor: fmt.Sprintf("%d", profile.HistoryId)}, nil
}

// Watch (re)establishes push notifications on the configured Pub/Sub
// topic. An existing watch is stopped first to avoid the "only one push
// notification client allowed" error.
func (c *Client) Watch(ctx context.Context) (*provider.WatchInfo, error) {
	_ = c.srv.Users.Stop("me").Context(ctx).Do()

	req := &gmail.WatchRequest{
		TopicName: c.topic,
		LabelIds:  []string{"INBOX"},
	}

	var resp *gmail.WatchResponse
	err := c.retry.Do(ctx, func() error {
		r, err := c.srv.Users.Watch("me", req).Context(ctx).Do()
		if err != nil {
			return wrapErr("gmail.Watch", err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &provider.WatchInfo{
		Cursor:  fmt.Sprintf("%d", resp.HistoryId),
		Expires: time.UnixMilli(resp.Expiration),
	}, nil
}

func (c *Client) StopWatch(ctx context.Context) error {
	err := c.srv.Users.Stop("me").Context(ctx).Do()
	return wrapErr("gmail.StopWatch", err)
}

// IsDraftSent reports whether a draft no longer exists: Gmail deletes
// the draft object once the user sends (or discards) it.
func (c *Client) IsDraftSent(ctx context.Context, draftID string) (bool, error) {
	_, err := c.srv.Users.Drafts.Get("me", draftID).Context(ctx).Do()
	if err != nil {
		wrapped := wrapErr("gmail.IsDraftSent", err)
		if provider.IsPermanent(wrapped) {
			return true, nil
		}
		return false, wrapped
	}
	return false, nil
}

// resolveLabelIDs maps label names to Gmail label ids. Well-known system
// labels pass through unchanged; unknown user labels are created when
// createMissing is set.
func (c *Client) resolveLabelIDs(ctx context.Context, names []string, createMissing bool) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	var listResp *gmail.ListLabelsResponse
	err := c.retry.Do(ctx, func() error {
		r, err := c.srv.Users.Labels.List("me").Context(ctx).Do()
		if err != nil {
			return wrapErr("gmail.ListLabels", err)
		}
		listResp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	byName := make(map[string]string, len(listResp.Labels))
	for _, l := range listResp.Labels {
		byName[strings.ToLower(l.Name)] = l.Id
	}

	var ids []string
	for _, name := range names {
		if isSystemLabel(name) {
			ids = append(ids, strings.ToUpper(name))
			continue
		}
		if id, ok := byName[strings.ToLower(name)]; ok {
			ids = append(ids, id)
			continue
		}
		if !createMissing {
			continue
		}

		var created *gmail.Label
		err := c.retry.Do(ctx, func() error {
			l, err := c.srv.Users.Labels.Create("me", &gmail.Label{
				Name:                  name,
				LabelListVisibility:   "labelShow",
				MessageListVisibility: "show",
			}).Context(ctx).Do()
			if err != nil {
				// Conflict: another worker created it concurrently.
				if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code == 409 {
					return nil
				}
				return wrapErr("gmail.CreateLabel", err)
			}
			created = l
			return nil
		})
		if err != nil {
			return nil, err
		}
		if created != nil {
			ids = append(ids, created.Id)
		} else {
			// Lost the creation race; re-list to pick up the winner's id.
			return c.resolveLabelIDs(ctx, names, false)
		}
	}
	return ids, nil
}

var systemLabels = map[string]bool{
	"INBOX": true, "UNREAD": true, "STARRED": true, "SPAM": true,
	"TRASH": true, "SENT": true, "DRAFT": true, "IMPORTANT": true,
}

func isSystemLabel(name string) bool {
	return systemLabels[strings.ToUpper(name)]
}

func parseHistoryID(cursor string) (uint64, error) {
	var id uint64
	_, err := fmt.Sscanf(cursor, "%d", &id)
	return id, err
}
