package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stan "github.com/nats-io/stan.go"

	"github.com/swatchline/dispatch/internal/ledger"
)

// Ingestor consumes raw order records from a NATS Streaming subject and
// stores them in the ledger. One record per message, JSON object encoded.
//
// Delivery uses a durable queue subscription with manual acks: a record
// that fails to store is left unacked and redelivered, and the idempotent
// upsert makes the redelivery harmless.
type Ingestor struct {
	ClusterID string
	ClientID  string
	URL       string
	Subject   string
	Durable   string
	Queue     string

	Sink Sink

	// AckWait is how long the server waits for an ack before redelivering.
	// Default 30s.
	AckWait time.Duration
	// HandleTimeout bounds one store call. Default 10s.
	HandleTimeout time.Duration
}

// Run connects and subscribes. It returns once the subscription is live;
// cancelling ctx closes the connection and stops delivery.
func (in *Ingestor) Run(ctx context.Context) error {
	if in.Sink == nil {
		return fmt.Errorf("feed ingestor: nil sink")
	}
	clientID := in.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("dispatch-feed-%d", time.Now().UnixNano())
	}
	ackWait := in.AckWait
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}
	handleTimeout := in.HandleTimeout
	if handleTimeout <= 0 {
		handleTimeout = 10 * time.Second
	}
	queue := in.Queue
	if queue == "" {
		queue = "dispatch-feed"
	}

	sc, err := stan.Connect(in.ClusterID, clientID,
		stan.NatsURL(in.URL),
		stan.SetConnectionLostHandler(func(_ stan.Conn, reason error) {
			slog.Error("feed connection lost", "reason", reason)
		}),
	)
	if err != nil {
		return fmt.Errorf("feed ingestor: connect %s: %w", in.URL, err)
	}

	go func() {
		<-ctx.Done()
		if err := sc.Close(); err != nil {
			slog.Warn("feed connection close failed", "err", err)
		}
	}()

	_, err = sc.QueueSubscribe(in.Subject, queue, func(m *stan.Msg) {
		hCtx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()
		if err := in.handle(hCtx, m.Data); err != nil {
			// No ack: the server redelivers and the upsert absorbs it.
			slog.Warn("feed message not stored", "sequence", m.Sequence, "err", err)
			return
		}
		if err := m.Ack(); err != nil {
			slog.Warn("feed ack failed", "sequence", m.Sequence, "err", err)
		}
	},
		stan.DurableName(in.Durable),
		stan.SetManualAckMode(),
		stan.AckWait(ackWait),
		stan.DeliverAllAvailable(),
	)
	if err != nil {
		sc.Close()
		return fmt.Errorf("feed ingestor: subscribe %s: %w", in.Subject, err)
	}

	slog.Info("feed ingestor subscribed", "subject", in.Subject, "durable", in.Durable, "queue", queue)
	return nil
}

func (in *Ingestor) handle(ctx context.Context, data []byte) error {
	records, err := parseMessage(data)
	if err != nil {
		return err
	}
	_, _, err = Import(ctx, in.Sink, records)
	return err
}

var _ Sink = (*ledger.SQLite)(nil)
