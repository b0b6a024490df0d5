package outlook

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot-backend/pkg/provider"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func stubClient(fn roundTripperFunc) *Client {
	return &Client{
		http:      &http.Client{Transport: fn},
		email:     "user@example.com",
		retry:     provider.RetryPolicy{MaxAttempts: 1},
		folderIDs: make(map[string]string),
	}
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestFolderIDConcurrentLookups(t *testing.T) {
	var fetches atomic.Int32
	c := stubClient(func(r *http.Request) (*http.Response, error) {
		fetches.Add(1)
		return jsonResponse(http.StatusOK, `{"id":"folder-inbox"}`), nil
	})

	// Every pipeline worker of a mailbox shares one Client, so the lazy
	// cache has to survive concurrent lookups.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := c.folderID(context.Background(), "inbox")
			assert.NoError(t, err)
			assert.Equal(t, "folder-inbox", id)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load())
}

func TestBatchGetMessagesSkipsDeletedItems(t *testing.T) {
	c := stubClient(func(r *http.Request) (*http.Response, error) {
		if strings.Contains(r.URL.Path, "/mailFolders/inbox") {
			return jsonResponse(http.StatusOK, `{"id":"folder-inbox"}`), nil
		}
		return jsonResponse(http.StatusOK, `{"responses":[
			{"id":"m1","status":404,"body":null},
			{"id":"m2","status":200,"body":{"id":"m2","conversationId":"t2","subject":"Hi","receivedDateTime":"2026-09-01T10:00:00Z"}}
		]}`), nil
	})

	messages, err := c.batchGetMessages(context.Background(), []string{"m1", "m2"})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "m2", messages[0].ID)
}

func TestBatchGetMessagesItemFailure(t *testing.T) {
	c := stubClient(func(r *http.Request) (*http.Response, error) {
		if strings.Contains(r.URL.Path, "/mailFolders/inbox") {
			return jsonResponse(http.StatusOK, `{"id":"folder-inbox"}`), nil
		}
		return jsonResponse(http.StatusOK, `{"responses":[
			{"id":"m1","status":500,"body":null}
		]}`), nil
	})

	_, err := c.batchGetMessages(context.Background(), []string{"m1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item m1 returned status 500")
	assert.True(t, provider.IsRetryable(err))
}
