package kafka_test

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/crmflow/pkg/channels/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBrokers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, kafka.ParseBrokers(" k1:9092, ,k2:9092 "))
	assert.Empty(t, kafka.ParseBrokers(""))
}

func TestCreateChannel_RequiresBrokers(t *testing.T) {
	t.Parallel()

	_, _, err := kafka.CreateChannel(watermill.NopLogger{}, nil, "crmflow-worker")
	require.ErrorIs(t, err, kafka.ErrNoBrokers)
}
