//go:build integration

package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATSPublisher_Publish(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	ch := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe("kaupa-test."+SubjectOrderFinalized, ch)
	require.NoError(t, err)
	defer s.Unsubscribe()
	require.NoError(t, sub.Flush())

	p, err := ConnectNATS(url, "kaupa-test", logger)
	require.NoError(t, err)
	defer p.Close()

	want := OrderFinalized{OrderID: uuid.New(), Number: "KP-260101-ABCDEF", TotalCents: 4200}
	require.NoError(t, p.Publish(context.Background(), SubjectOrderFinalized, want))

	select {
	case msg := <-ch:
		assert.Equal(t, "application/json", msg.Header.Get("Content-Type"))
		var got OrderFinalized
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, want.OrderID, got.OrderID)
		assert.Equal(t, want.TotalCents, got.TotalCents)
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}
