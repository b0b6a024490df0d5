package outlook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"mailpilot-backend/pkg/provider"
)

// graphBatchLimit is Microsoft's hard cap on $batch request items.
const graphBatchLimit = 20

type batchRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	URL    string `json:"url"`
}

type batchResponse struct {
	Responses []struct {
		ID     string          `json:"id"`
		Status int             `json:"status"`
		Body   json.RawMessage `json:"body"`
	} `json:"responses"`
}

// batchGetMessages fetches full messages for ids via $batch, chunking at
// the Graph limit. Individual 404s inside a batch are skipped (message
// deleted between listing and fetch); other per-item failures fail the
// whole call.
func (c *Client) batchGetMessages(ctx context.Context, ids []string) ([]*provider.Message, error) {
	inboxID, _ := c.folderID(ctx, "inbox")

	byID := make(map[string]*provider.Message, len(ids))
	for _, chunk := range chunkIDs(ids, graphBatchLimit) {
		requests := make([]batchRequest, 0, len(chunk))
		for i, id := range chunk {
			requests = append(requests, batchRequest{
				ID:     chunk[i],
				Method: http.MethodGet,
				URL:    "/me/messages/" + url.PathEscape(id) + "?$select=" + messageSelect,
			})
		}

		var resp batchResponse
		err := c.retry.Do(ctx, func() error {
			return c.doJSON(ctx, http.MethodPost, graphBase+"/$batch",
				map[string]interface{}{"requests": requests}, &resp)
		})
		if err != nil {
			return nil, err
		}

		for _, item := range resp.Responses {
			if item.Status == http.StatusNotFound {
				continue
			}
			if item.Status < 200 || item.Status > 299 {
				return nil, provider.NewError(provider.KindFromStatus(item.Status),
					"outlook.batchGetMessages", errStatus(item.Status, item.ID))
			}
			var gm graphMessage
			if err := json.Unmarshal(item.Body, &gm); err != nil {
				return nil, provider.NewError(provider.Permanent, "outlook.batchGetMessages", err)
			}
			byID[item.ID] = convertMessage(&gm, inboxID)
		}
	}

	// Preserve the caller's id order.
	messages := make([]*provider.Message, 0, len(byID))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			messages = append(messages, m)
		}
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].ReceivedAt.Before(messages[j].ReceivedAt)
	})
	return messages, nil
}

func errStatus(status int, id string) error {
	return fmt.Errorf("item %s returned status %d", id, status)
}

// chunkIDs splits ids into slices of at most size entries.
func chunkIDs(ids []string, size int) [][]string {
	if size <= 0 || len(ids) == 0 {
		return nil
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
