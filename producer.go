package shepherd

import (
	"context"
	"fmt"
	"time"

	"github.com/FlockTeam/Shepherd-Daemon/structs"
	"github.com/nats-io/nats.go"
)

// StatusProducer publishes shard status transitions for external
// consumers such as dashboards.
type StatusProducer interface {
	PublishShardStatus(ctx context.Context, shardID int32, status structs.ShardStatus) error
	Close() error
}

// NullStatusProducer discards all status transitions.
type NullStatusProducer struct{}

func NewNullStatusProducer() *NullStatusProducer {
	return &NullStatusProducer{}
}

func (p *NullStatusProducer) PublishShardStatus(_ context.Context, _ int32, _ structs.ShardStatus) error {
	return nil
}

func (p *NullStatusProducer) Close() error {
	return nil
}

// NATSStatusProducer publishes status transitions to a NATS subject.
type NATSStatusProducer struct {
	conn *nats.Conn

	channel string
}

func NewNATSStatusProducer(address string, channel string) (*NATSStatusProducer, error) {
	conn, err := nats.Connect(address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &NATSStatusProducer{
		conn: conn,

		channel: channel,
	}, nil
}

type shardStatusPayload struct {
	ShardID int32               `json:"shard_id"`
	Status  structs.ShardStatus `json:"status"`
	Time    time.Time           `json:"time"`
}

func (p *NATSStatusProducer) PublishShardStatus(_ context.Context, shardID int32, status structs.ShardStatus) error {
	body, err := json.Marshal(shardStatusPayload{
		ShardID: shardID,
		Status:  status,
		Time:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal shard status: %w", err)
	}

	err = p.conn.Publish(p.channel+".shard_status", body)
	if err != nil {
		return fmt.Errorf("failed to publish shard status: %w", err)
	}

	return nil
}

func (p *NATSStatusProducer) Close() error {
	return p.conn.Drain()
}
