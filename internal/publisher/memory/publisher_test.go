package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()

	id, err := p.Publish(context.Background(), "new-markets", map[string]string{"id": "m-1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	_, err = p.Publish(context.Background(), "new-markets", map[string]string{"id": "m-2"})
	require.NoError(t, err)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "new-markets", msgs[0].Topic)
}
