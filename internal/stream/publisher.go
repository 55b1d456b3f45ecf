package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"RainLens/internal/observability"
	"RainLens/internal/query"
)

const (
	// StreamName is the JetStream stream holding published snapshots.
	StreamName = "RAIN_SNAPSHOTS"
	// SubjectPrefix roots every snapshot subject:
	// rain.snapshots.{view}.{currency}
	SubjectPrefix = "rain.snapshots"
)

// JetStreamPublisher is the publish side of jetstream.JetStream.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// SnapshotMessage is the JSON body of a published snapshot. Amounts are
// decimal strings so consumers without 64-bit unsigned integers keep full
// precision.
type SnapshotMessage struct {
	ID       string         `json:"id"`
	View     string         `json:"view"`
	Currency string         `json:"currency"`
	AsOf     time.Time      `json:"as_of"`
	Entries  []MessageEntry `json:"entries"`
}

type MessageEntry struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

// Subject returns the subject a snapshot is published on.
func Subject(view query.View, currency string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, view, currency)
}

// NewSnapshotMessage converts snap into its wire form.
func NewSnapshotMessage(snap *query.Snapshot) SnapshotMessage {
	msg := SnapshotMessage{
		ID:       snap.ID.String(),
		View:     string(snap.View),
		Currency: snap.Currency.String(),
		AsOf:     snap.AsOf,
		Entries:  make([]MessageEntry, len(snap.Entries)),
	}
	for i, e := range snap.Entries {
		msg.Entries[i] = MessageEntry{User: e.User.String(), Amount: strconv.FormatUint(e.Amount, 10)}
	}
	return msg
}

// SnapshotPublisher publishes computed snapshots to JetStream for
// downstream consumers. Publication is best effort: failures are logged
// and counted, never returned to the query path.
type SnapshotPublisher struct {
	js      JetStreamPublisher
	input   <-chan *query.Snapshot
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewSnapshotPublisher(js JetStreamPublisher, input <-chan *query.Snapshot, logger zerolog.Logger, metrics *observability.Metrics) *SnapshotPublisher {
	return &SnapshotPublisher{
		js:      js,
		input:   input,
		logger:  logger,
		metrics: metrics,
	}
}

// Run publishes snapshots until ctx is cancelled or the input closes.
func (p *SnapshotPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case snap, ok := <-p.input:
			if !ok {
				return nil
			}
			err := p.Publish(ctx, snap)
			p.metrics.ObservePublish(err)
			if err != nil {
				p.logger.Warn().
					Err(err).
					Str("snapshot_id", snap.ID.String()).
					Msg("snapshot publish failed")
			}
		}
	}
}

// Publish sends one snapshot. The snapshot ID doubles as the JetStream
// message ID, so a re-publish within the duplicate window is dropped.
func (p *SnapshotPublisher) Publish(ctx context.Context, snap *query.Snapshot) error {
	data, err := json.Marshal(NewSnapshotMessage(snap))
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	subject := Subject(snap.View, snap.Currency.String())
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(snap.ID.String())); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// EnsureStream creates or updates the snapshot stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create snapshot stream: %w", err)
	}
	logger.Info().Str("stream", StreamName).Msg("ensured snapshot stream")
	return nil
}

// Connect establishes a NATS connection and returns a JetStream context.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("rainlens"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
