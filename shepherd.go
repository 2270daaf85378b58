package shepherd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/FlockTeam/Shepherd-Daemon/structs"
	"github.com/WelcomerTeam/RealRock/bucketstore"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"
)

// VERSION follows semantic versioning.
const VERSION = "1.3.0"

const EventChannelBuffer = 64

// Shepherd orchestrates the connection lifecycle of every shard owned by
// this process. The connection event loop is the only place that mutates
// the shard map and shard count.
type Shepherd struct {
	ctx    context.Context
	cancel func()

	Logger zerolog.Logger `json:"-"`

	Configuration *Configuration `json:"configuration"`

	StartTime time.Time `json:"start_time"`

	Gateway  GatewayClient  `json:"-"`
	Gate     AdmissionGate  `json:"-"`
	Producer StatusProducer `json:"-"`

	eventCh chan LifecycleEvent

	shardsMu   sync.RWMutex
	Shards     map[int32]*Shard `json:"shards"`
	ShardIDs   []int32          `json:"shard_ids"`
	ShardCount int32            `json:"shard_count"`

	webhookBuckets *bucketstore.BucketStore
}

// NewShepherd creates the orchestrator. The admission gate is picked from
// the configuration: the coordinator when the shard manager is enabled,
// pass-through otherwise.
func NewShepherd(logger zerolog.Logger, configuration *Configuration, gateway GatewayClient) (sd *Shepherd, err error) {
	err = configuration.Validate()
	if err != nil {
		return nil, err
	}

	sd = &Shepherd{
		Logger: logger,

		Configuration: configuration,

		Gateway: gateway,

		eventCh: make(chan LifecycleEvent, EventChannelBuffer),

		shardsMu: sync.RWMutex{},
		Shards:   make(map[int32]*Shard),

		webhookBuckets: bucketstore.NewBucketStore(),
	}

	sd.ctx, sd.cancel = context.WithCancel(context.Background())

	if configuration.ShardManager.Enabled {
		sd.Gate = NewCoordinatorGate(logger, configuration.ShardManager.Address())
	} else {
		sd.Gate = NewPassthroughGate()
	}

	if configuration.Producer.Enabled {
		sd.Producer, err = NewNATSStatusProducer(configuration.Producer.Address, configuration.Producer.Channel)
		if err != nil {
			return nil, fmt.Errorf("failed to create status producer: %w", err)
		}
	} else {
		sd.Producer = NewNullStatusProducer()
	}

	return sd, nil
}

// WithAdmissionGate overrides the admission gate picked from the
// configuration.
func (sd *Shepherd) WithAdmissionGate(gate AdmissionGate) *Shepherd {
	sd.Gate = gate

	return sd
}

// WithStatusProducer overrides the status producer picked from the
// configuration.
func (sd *Shepherd) WithStatusProducer(producer StatusProducer) *Shepherd {
	sd.Producer = producer

	return sd
}

// Submit queues a lifecycle event for the connection event loop. It is
// the only entry point the gateway client has into the loop.
func (sd *Shepherd) Submit(event LifecycleEvent) {
	select {
	case sd.eventCh <- event:
	case <-sd.ctx.Done():
	}
}

// Open launches every owned shard concurrently and waits until all have
// finished their first connection. Any fatal error cancels the remaining
// launches and is returned; a partial fleet is not a success state.
func (sd *Shepherd) Open() error {
	sd.StartTime = time.Now().UTC()

	sd.Logger.Info().Str("version", VERSION).Msg("Starting shepherd")

	registerMetrics()

	if sd.Configuration.Prometheus.Host != "" {
		go sd.servePrometheus()
	}

	if sd.Configuration.HTTP.Enabled {
		go sd.serveRest()
	}

	shardCount := sd.Configuration.Bot.ShardCount

	shardIDs := make([]int32, 0, shardCount)
	if sd.Configuration.Bot.ShardIDs != "" {
		shardIDs = shardRange(sd.Configuration.Bot.ShardIDs, shardCount)
	} else {
		for shardID := int32(0); shardID < shardCount; shardID++ {
			shardIDs = append(shardIDs, shardID)
		}
	}

	if len(shardIDs) == 0 {
		return ErrMissingShards
	}

	sd.shardsMu.Lock()
	sd.ShardCount = shardCount
	sd.ShardIDs = shardIDs

	for _, shardID := range shardIDs {
		shard := sd.NewShard(shardID)
		sd.Shards[shardID] = shard
		shard.Open()
	}
	sd.shardsMu.Unlock()

	sd.Logger.Info().
		Int32("shardCount", shardCount).
		Int("shardIds", len(shardIDs)).
		Msg("Launching shards")

	group, groupCtx := errgroup.WithContext(sd.ctx)

	for index, shardID := range shardIDs {
		shard := sd.getShard(shardID)
		initial := index == 0

		group.Go(func() error {
			return shard.Launch(groupCtx, initial)
		})
	}

	err := group.Wait()
	if err != nil {
		return fmt.Errorf("failed to launch shards: %w", err)
	}

	sd.Logger.Info().Msg("All shards have connected")

	return nil
}

// Run is the connection event loop. Exactly one lifecycle event is
// dequeued and dispatched at a time; blocking work runs on the affected
// shard's task queue so other shards keep making progress. Run returns
// when a terminate or clean close event is processed, the gateway client
// reports closed, or the shepherd is closed.
func (sd *Shepherd) Run() error {
	sd.Logger.Info().Msg("Listening for lifecycle events")

	for {
		if sd.Gateway.IsClosed() {
			sd.Logger.Info().Msg("Gateway client closed. Stopping")

			return nil
		}

		select {
		case <-sd.ctx.Done():
			return nil
		case event := <-sd.eventCh:
			shepherdEventCount.WithLabelValues(event.Type.String()).Inc()

			done, err := sd.dispatch(event)
			if done {
				return err
			}
		}
	}
}

func (sd *Shepherd) dispatch(event LifecycleEvent) (done bool, err error) {
	switch event.Type {
	case EventTypeClose:
		return sd.handleClose(event)
	case EventTypeIdentify:
		shard := sd.getShard(event.ShardID)
		if shard == nil {
			sd.Logger.Warn().Int32("shardId", event.ShardID).Msg("Received identify for unknown shard")

			return false, nil
		}

		reason := event.Err
		shard.enqueue(func(ctx context.Context) {
			shard.absorb(shard.Reidentify(ctx, reason), "reidentify")
		})
	case EventTypeResume:
		shard := sd.getShard(event.ShardID)
		if shard == nil {
			sd.Logger.Warn().Int32("shardId", event.ShardID).Msg("Received resume for unknown shard")

			return false, nil
		}

		reason := event.Err
		shard.enqueue(func(ctx context.Context) {
			shard.absorb(shard.Resume(ctx, reason), "resume")
		})
	case EventTypeReconnect:
		shard := sd.getShard(event.ShardID)
		if shard == nil {
			sd.Logger.Warn().Int32("shardId", event.ShardID).Msg("Received reconnect for unknown shard")

			return false, nil
		}

		shard.enqueue(func(ctx context.Context) {
			shard.absorb(shard.Reconnect(ctx), "reconnect")
		})
	case EventTypeTerminate:
		sd.Logger.Error().Err(event.Err).Msg("Received terminate event. Stopping")

		sd.PublishSimpleWebhook(
			"Shepherd terminating",
			returnError(event.Err),
			fmt.Sprintf("Shards: %d/%d", len(sd.ShardIDs), sd.ShardCount),
			EmbedColourDanger,
		)

		return true, event.Err
	case EventTypeCleanClose:
		sd.Logger.Info().Msg("Received clean close event. Stopping")

		return true, nil
	default:
		sd.Logger.Warn().Int32("type", int32(event.Type)).Msg("Received unknown lifecycle event")
	}

	return false, nil
}

func (sd *Shepherd) handleClose(event LifecycleEvent) (done bool, err error) {
	shard := sd.getShard(event.ShardID)
	if shard == nil {
		sd.Logger.Warn().Int32("shardId", event.ShardID).Msg("Received close for unknown shard")

		return false, nil
	}

	switch {
	case event.Code == CloseCodePrivilegedIntents:
		// Permanent configuration problem, fail the whole process.
		intentsErr := &PrivilegedIntentsRequiredError{ShardID: event.ShardID}

		shard.Logger.Error().Msg("Shard is missing privileged intents. Stopping")

		sd.PublishSimpleWebhook(
			"Privileged intents required",
			intentsErr.Error(),
			fmt.Sprintf("Shards: %d/%d", len(sd.ShardIDs), sd.ShardCount),
			EmbedColourDanger,
		)

		return true, intentsErr
	case event.Code == CloseCodeNormal || event.Code == 0:
		shard.Logger.Info().Msg("Shard closed cleanly")

		sd.removeShard(shard)

		return false, nil
	default:
		shard.Logger.Warn().Err(event.Err).
			Int32("code", event.Code).
			Msg("Shard closed. Reidentifying")

		// Webhook delivery must never hold up event dispatch.
		go sd.PublishSimpleWebhook(
			"Shard closed unexpectedly",
			fmt.Sprintf("Shard %d closed with code %d. Reidentifying", event.ShardID, event.Code),
			returnError(event.Err),
			EmbedColourWarning,
		)

		reason := event.Err
		shard.enqueue(func(ctx context.Context) {
			shard.absorb(shard.Reidentify(ctx, reason), "reidentify")
		})

		return false, nil
	}
}

// removeShard permanently terminates a shard. It is only called from the
// connection event loop.
func (sd *Shepherd) removeShard(shard *Shard) {
	shard.SetStatus(structs.ShardClosing)
	shard.Close()
	shard.SetStatus(structs.ShardTerminated)

	sd.shardsMu.Lock()
	delete(sd.Shards, shard.ShardID)
	sd.shardsMu.Unlock()
}

func (sd *Shepherd) getShard(shardID int32) *Shard {
	sd.shardsMu.RLock()
	defer sd.shardsMu.RUnlock()

	return sd.Shards[shardID]
}

// ShardStatuses returns a snapshot of every remaining shard's status in
// shard id order.
func (sd *Shepherd) ShardStatuses() []structs.StatusEndpointShard {
	sd.shardsMu.RLock()
	defer sd.shardsMu.RUnlock()

	statuses := make([]structs.StatusEndpointShard, 0, len(sd.Shards))

	for _, shardID := range sd.ShardIDs {
		shard, ok := sd.Shards[shardID]
		if !ok {
			continue
		}

		statuses = append(statuses, structs.StatusEndpointShard{
			ShardID: shardID,
			Status:  shard.GetStatus(),
		})
	}

	return statuses
}

// Close stops the event loop and all shard workers, abandons in-flight
// admission requests and releases any still held tickets before their
// coordinator links close.
func (sd *Shepherd) Close() {
	sd.Logger.Info().Msg("Closing shepherd")

	sd.cancel()

	sd.shardsMu.Lock()
	for _, shard := range sd.Shards {
		shard.Close()
	}
	sd.shardsMu.Unlock()

	if gate, ok := sd.Gate.(*CoordinatorGate); ok {
		gate.Close()
	}

	err := sd.Gateway.Close()
	if err != nil {
		sd.Logger.Warn().Err(err).Msg("Failed to close gateway client")
	}

	if sd.Producer != nil {
		err = sd.Producer.Close()
		if err != nil {
			sd.Logger.Warn().Err(err).Msg("Failed to close status producer")
		}
	}
}

func (sd *Shepherd) servePrometheus() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	sd.Logger.Info().
		Str("host", sd.Configuration.Prometheus.Host).
		Msg("Serving prometheus")

	err := http.ListenAndServe(sd.Configuration.Prometheus.Host, mux)
	if err != nil {
		sd.Logger.Error().Err(err).Msg("Failed to serve prometheus server")
	}
}

func (sd *Shepherd) serveRest() {
	sd.Logger.Info().
		Str("host", sd.Configuration.HTTP.Host).
		Msg("Serving rest api")

	err := fasthttp.ListenAndServe(sd.Configuration.HTTP.Host, sd.NewRestRouter().Handler)
	if err != nil {
		sd.Logger.Error().Err(err).Msg("Failed to serve rest api")
	}
}
