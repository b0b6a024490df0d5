package outlook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"mailpilot-backend/pkg/provider"
)

const graphBase = "https://graph.microsoft.com/v1.0"

// Graph subscriptions max out just short of three days for messages.
const subscriptionLifetime = 70 * time.Hour

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

// Config holds the app-level Microsoft credentials shared by all
// mailboxes.
type Config struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	// ClientState is the shared secret echoed in every change
	// notification; deliveries without it are rejected.
	ClientState string
	// NotificationURL is the public webhook endpoint registered with
	// Graph subscriptions.
	NotificationURL string
}

// Client is a per-mailbox Microsoft Graph adapter. The corpus carries no
// Graph SDK, so calls go through net/http on top of the oauth2 client.
type Client struct {
	http  *http.Client
	cfg   Config
	email string
	retry provider.RetryPolicy

	// Cached well-known folder ids, resolved lazily. One Client serves
	// every worker goroutine of its mailbox, so access is serialized.
	mu        sync.Mutex
	folderIDs map[string]string
}

// NewClient creates a Graph client bound to one mailbox's grant.
func NewClient(ctx context.Context, cfg Config, email, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) (*Client, error) {
	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}
	if refreshToken != "" {
		token.Expiry = time.Now()
	}

	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     microsoft.AzureADEndpoint(tenant),
	}

	wrapped := &notifyTokenSource{
		src:      oauthCfg.TokenSource(ctx, token),
		current:  token,
		callback: onTokenRefresh,
	}

	return &Client{
		http:      oauth2.NewClient(ctx, wrapped),
		cfg:       cfg,
		email:     email,
		retry:     provider.DefaultRetryPolicy(),
		folderIDs: make(map[string]string),
	}, nil
}

func (c *Client) Kind() provider.Kind { return provider.KindOutlook }

// doJSON performs one Graph request and decodes the response into out
// (when non-nil). Non-2xx statuses map onto the shared error taxonomy.
func (c *Client) doJSON(ctx context.Context, method, urlStr string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return provider.NewError(provider.Permanent, "outlook.request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
	if err != nil {
		return provider.NewError(provider.Permanent, "outlook.request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return provider.NewError(provider.Transient, "outlook.request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.NewError(provider.Transient, "outlook.request", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := provider.KindFromStatus(resp.StatusCode)
		return provider.NewError(kind, "outlook.request",
			fmt.Errorf("%s %s: %d: %s", method, urlStr, resp.StatusCode, truncateBody(data)))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return provider.NewError(provider.Permanent, "outlook.decode", err)
		}
	}
	return nil
}

func truncateBody(data []byte) string {
	const max = 300
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

func (c *Client) GetMessage(ctx context.Context, id string) (*provider.Message, error) {
	var gm graphMessage
	err := c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet,
			graphBase+"/me/messages/"+url.PathEscape(id)+"?$select="+messageSelect, nil, &gm)
	})
	if err != nil {
		return nil, err
	}

	inboxID, _ := c.folderID(ctx, "inbox")
	return convertMessage(&gm, inboxID), nil
}

// GetThread lists the conversation's message ids, then bulk-fetches the
// full messages through $batch (Graph caps batches at 20 items, so ids
// are chunked).
func (c *Client) GetThread(ctx context.Context, id string) (*provider.Thread, error) {
	var list struct {
		Value []graphMessage `json:"value"`
	}
	filter := url.QueryEscape(fmt.Sprintf("conversationId eq '%s'", id))
	err := c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet,
			graphBase+"/me/messages?$select=id&$filter="+filter+"&$orderby=receivedDateTime", nil, &list)
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(list.Value))
	for _, m := range list.Value {
		ids = append(ids, m.ID)
	}

	messages, err := c.batchGetMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	return &provider.Thread{ID: id, Messages: messages}, nil
}

// ApplyLabels maps labels onto Outlook categories. Removals that aren't
// present are no-ops.
func (c *Client) ApplyLabels(ctx context.Context, messageID string, add, remove []string) error {
	var current struct {
		Categories []string `json:"categories"`
	}
	err := c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet,
			graphBase+"/me/messages/"+url.PathEscape(messageID)+"?$select=categories", nil, &current)
	})
	if err != nil {
		return err
	}

	set := make(map[string]bool, len(current.Categories))
	for _, cat := range current.Categories {
		set[cat] = true
	}
	for _, cat := range add {
		set[cat] = true
	}
	for _, cat := range remove {
		delete(set, cat)
	}

	categories := make([]string, 0, len(set))
	for cat := range set {
		categories = append(categories, cat)
	}

	patch := map[string]interface{}{"categories": categories}
	return c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodPatch,
			graphBase+"/me/messages/"+url.PathEscape(messageID), patch, nil)
	})
}

// Archive moves every message of the conversation to the Archive folder.
func (c *Client) Archive(ctx context.Context, threadID string) error {
	var list struct {
		Value []graphMessage `json:"value"`
	}
	filter := url.QueryEscape(fmt.Sprintf("conversationId eq '%s'", threadID))
	err := c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet,
			graphBase+"/me/mailFolders/inbox/messages?$select=id&$filter="+filter, nil, &list)
	})
	if err != nil {
		return err
	}

	for _, m := range list.Value {
		if err := c.moveMessage(ctx, m.ID, "archive"); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) MoveToFolder(ctx context.Context, messageID, folder string) error {
	folderID, err := c.resolveFolder(ctx, folder, true)
	if err != nil {
		return err
	}
	return c.moveTo(ctx, messageID, folderID)
}

func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	patch := map[string]interface{}{"isRead": true}
	return c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodPatch,
			graphBase+"/me/messages/"+url.PathEscape(messageID), patch, nil)
	})
}

func (c *Client) MarkSpam(ctx context.Context, messageID string) error {
	return c.moveMessage(ctx, messageID, "junkemail")
}

func (c *Client) Trash(ctx context.Context, messageID string) error {
	return c.moveMessage(ctx, messageID, "deleteditems")
}

func (c *Client) CreateDraft(ctx context.Context, params provider.DraftParams) (string, error) {
	// Replying to a known message: let Graph build the reply draft so
	// threading headers are correct, then fill in our body.
	if params.SourceMessageID != "" {
		var draft graphMessage
		err := c.retry.Do(ctx, func() error {
			return c.doJSON(ctx, http.MethodPost,
				graphBase+"/me/messages/"+url.PathEscape(params.SourceMessageID)+"/createReply", struct{}{}, &draft)
		})
		if err != nil {
			return "", err
		}

		patch := map[string]interface{}{
			"body": map[string]string{"contentType": "text", "content": params.Body},
		}
		err = c.retry.Do(ctx, func() error {
			return c.doJSON(ctx, http.MethodPatch,
				graphBase+"/me/messages/"+url.PathEscape(draft.ID), patch, nil)
		})
		return draft.ID, err
	}

	var created graphMessage
	err := c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodPost, graphBase+"/me/messages",
			newGraphDraft(params), &created)
	})
	return created.ID, err
}

func (c *Client) SendReply(ctx context.Context, params provider.DraftParams) error {
	if params.SourceMessageID == "" {
		return provider.NewError(provider.Permanent, "outlook.SendReply",
			fmt.Errorf("reply requires a source message id"))
	}
	body := map[string]interface{}{"comment": params.Body}
	return c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodPost,
			graphBase+"/me/messages/"+url.PathEscape(params.SourceMessageID)+"/reply", body, nil)
	})
}

func (c *Client) Forward(ctx context.Context, params provider.ForwardParams) error {
	body := map[string]interface{}{
		"comment": params.Note,
		"toRecipients": []map[string]interface{}{
			{"emailAddress": map[string]string{"address": params.To}},
		},
	}
	return c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodPost,
			graphBase+"/me/messages/"+url.PathEscape(params.MessageID)+"/forward", body, nil)
	})
}

func (c *Client) SendEmail(ctx context.Context, params provider.DraftParams) error {
	body := map[string]interface{}{
		"message":         newGraphDraft(params),
		"saveToSentItems": true,
	}
	return c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodPost, graphBase+"/me/sendMail", body, nil)
	})
}

// GetHistorySince walks the inbox delta feed. The cursor is the opaque
// deltaLink URL; empty (or expired, HTTP 410) cursors re-baseline by
// walking to the current deltaLink without reporting ids.
func (c *Client) GetHistorySince(ctx context.Context, cursor string) (*provider.Delta, error) {
	baselining := cursor == ""
	next := cursor
	if next == "" {
		next = graphBase + "/me/mailFolders/inbox/messages/delta?$select=id,isDraft"
	}

	delta := &provider.Delta{}
	seen := make(map[string]bool)

	for {
		var page deltaPage
		err := c.retry.Do(ctx, func() error {
			return c.doJSON(ctx, http.MethodGet, next, nil, &page)
		})
		if err != nil {
			// 410 Gone: delta token expired, start over from scratch.
			if provider.IsPermanent(err) && !baselining {
				return c.GetHistorySince(ctx, "")
			}
			return nil, err
		}

		if !baselining {
			for _, item := range page.Value {
				if item.Removed != nil || item.IsDraft || seen[item.ID] {
					continue
				}
				seen[item.ID] = true
				delta.NewMessageIDs = append(delta.NewMessageIDs, item.ID)
			}
		}

		if page.NextLink != "" {
			next = page.NextLink
			continue
		}
		delta.NewCursor = page.DeltaLink
		return delta, nil
	}
}

// Watch replaces any existing subscription for our notification URL with
// a fresh one. Renewal is the same call: Graph subscriptions are cheap
// to recreate and this avoids tracking subscription ids.
func (c *Client) Watch(ctx context.Context) (*provider.WatchInfo, error) {
	var subs struct {
		Value []struct {
			ID              string `json:"id"`
			NotificationURL string `json:"notificationUrl"`
		} `json:"value"`
	}
	err := c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, graphBase+"/subscriptions", nil, &subs)
	})
	if err != nil {
		return nil, err
	}
	for _, sub := range subs.Value {
		if sub.NotificationURL == c.cfg.NotificationURL {
			_ = c.doJSON(ctx, http.MethodDelete, graphBase+"/subscriptions/"+url.PathEscape(sub.ID), nil, nil)
		}
	}

	expires := time.Now().Add(subscriptionLifetime)
	req := map[string]interface{}{
		"changeType":         "created",
		"notificationUrl":    c.cfg.NotificationURL,
		"resource":           "/me/mailFolders('inbox')/messages",
		"expirationDateTime": expires.UTC().Format(time.RFC3339),
		"clientState":        c.cfg.ClientState,
	}

	var created struct {
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	err = c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodPost, graphBase+"/subscriptions", req, &created)
	})
	if err != nil {
		return nil, err
	}
	if t, perr := time.Parse(time.RFC3339, created.ExpirationDateTime); perr == nil {
		expires = t
	}

	// The delta cursor comes from the delta feed, not the subscription.
	return &provider.WatchInfo{Expires: expires}, nil
}

func (c *Client) StopWatch(ctx context.Context) error {
	var subs struct {
		Value []struct {
			ID              string `json:"id"`
			NotificationURL string `json:"notificationUrl"`
		} `json:"value"`
	}
	if err := c.doJSON(ctx, http.MethodGet, graphBase+"/subscriptions", nil, &subs); err != nil {
		return err
	}
	for _, sub := range subs.Value {
		if sub.NotificationURL == c.cfg.NotificationURL {
			if err := c.doJSON(ctx, http.MethodDelete, graphBase+"/subscriptions/"+url.PathEscape(sub.ID), nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsDraftSent reports whether the draft left the Drafts folder: either
// the message no longer exists or isDraft has flipped to false.
func (c *Client) IsDraftSent(ctx context.Context, draftID string) (bool, error) {
	var gm struct {
		IsDraft bool `json:"isDraft"`
	}
	err := c.doJSON(ctx, http.MethodGet,
		graphBase+"/me/messages/"+url.PathEscape(draftID)+"?$select=isDraft", nil, &gm)
	if err != nil {
		if provider.IsPermanent(err) {
			return true, nil
		}
		return false, err
	}
	return !gm.IsDraft, nil
}

func (c *Client) moveMessage(ctx context.Context, messageID, wellKnownFolder string) error {
	return c.moveTo(ctx, messageID, wellKnownFolder)
}

func (c *Client) moveTo(ctx context.Context, messageID, destinationID string) error {
	body := map[string]string{"destinationId": destinationID}
	return c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodPost,
			graphBase+"/me/messages/"+url.PathEscape(messageID)+"/move", body, nil)
	})
}

// resolveFolder finds a mail folder id by display name, creating it when
// missing. Well-known names (inbox, archive, ...) pass through.
func (c *Client) resolveFolder(ctx context.Context, name string, createMissing bool) (string, error) {
	if wellKnownFolders[strings.ToLower(name)] {
		return strings.ToLower(name), nil
	}

	var list struct {
		Value []struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
		} `json:"value"`
	}
	filter := url.QueryEscape(fmt.Sprintf("displayName eq '%s'", strings.ReplaceAll(name, "'", "''")))
	err := c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, graphBase+"/me/mailFolders?$filter="+filter, nil, &list)
	})
	if err != nil {
		return "", err
	}
	if len(list.Value) > 0 {
		return list.Value[0].ID, nil
	}
	if !createMissing {
		return "", provider.NewError(provider.Permanent, "outlook.resolveFolder",
			fmt.Errorf("folder %q not found", name))
	}

	var created struct {
		ID string `json:"id"`
	}
	err = c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodPost, graphBase+"/me/mailFolders",
			map[string]string{"displayName": name}, &created)
	})
	return created.ID, err
}

// folderID resolves and caches a well-known folder's real id.
func (c *Client) folderID(ctx context.Context, wellKnown string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.folderIDs[wellKnown]; ok {
		return id, nil
	}
	var folder struct {
		ID string `json:"id"`
	}
	err := c.doJSON(ctx, http.MethodGet, graphBase+"/me/mailFolders/"+wellKnown+"?$select=id", nil, &folder)
	if err != nil {
		return "", err
	}
	c.folderIDs[wellKnown] = folder.ID
	return folder.ID, nil
}

var wellKnownFolders = map[string]bool{
	"inbox": true, "archive": true, "drafts": true, "sentitems": true,
	"deleteditems": true, "junkemail": true,
}
