package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creditledger-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	assert.Equal(t, "projects/p1/topics/ledger", TopicResourceName("p1", " ledger "))
	assert.Equal(t, "projects/other/topics/x", TopicResourceName("p1", "projects/other/topics/x"))
	assert.Empty(t, TopicResourceName("", "ledger"))
	assert.Empty(t, TopicResourceName("p1", ""))
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{LedgerTopic: "t"}, nil)
	assert.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(context.Background(), config.GCPConfig{ProjectID: "p"}, config.PubSubConfig{}, nil)
	assert.ErrorIs(t, err, errTopicRequired)
}

func TestNilClient(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("ledger"))
	require.Error(t, c.Ping(context.Background()))
	assert.NoError(t, c.Close())
}
