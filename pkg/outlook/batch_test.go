package outlook

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkIDs(t *testing.T) {
	ids := make([]string, 45)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
	}

	chunks := chunkIDs(ids, graphBatchLimit)
	assert.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 20)
	assert.Len(t, chunks[1], 20)
	assert.Len(t, chunks[2], 5)
	assert.Equal(t, "id-0", chunks[0][0])
	assert.Equal(t, "id-44", chunks[2][4])
}

func TestChunkIDsEdgeCases(t *testing.T) {
	assert.Nil(t, chunkIDs(nil, 20))
	assert.Nil(t, chunkIDs([]string{"a"}, 0))

	chunks := chunkIDs([]string{"a", "b"}, 20)
	assert.Len(t, chunks, 1)
	assert.Equal(t, []string{"a", "b"}, chunks[0])
}
