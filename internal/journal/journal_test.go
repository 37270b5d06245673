package journal

import (
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStampFillsDefaults(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r := NewRedis(nil, "", "bot-1", logger)
	assert.Equal(t, DefaultQueueName, r.queue)

	rec := r.stamp(Record{Kind: KindPartyJoined, PartySize: 3})
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, "bot-1", rec.BotID)
	assert.NotZero(t, rec.Timestamp)

	kept := r.stamp(Record{BotID: "other", Timestamp: 42})
	assert.Equal(t, "other", kept.BotID)
	assert.EqualValues(t, 42, kept.Timestamp)
}

func TestEncodeDecode(t *testing.T) {
	in := Record{
		ID:        uuid.New(),
		BotID:     "bot-1",
		Kind:      KindMatchmakingRejected,
		PartyID:   "p1",
		PartySize: 2,
		Detail:    map[string]any{"status": float64(403)},
		Timestamp: 1700000000000,
	}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = Decode([]byte("{"))
	assert.Error(t, err)
}
