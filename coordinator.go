package shepherd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/FlockTeam/Shepherd-Daemon/structs"
	"github.com/rs/zerolog"
	gotils_strconv "github.com/savsgio/gotils/strconv"
)

const (
	// Time waited before retrying when the coordinator is unreachable.
	CoordinatorRetryWait = 10 * time.Second

	// Upper bound of the random delay added to each retry so a waiting
	// fleet does not stampede a recovering coordinator.
	CoordinatorRetryJitter = 1 * time.Second

	coordinatorHeaderSize = 8

	// Largest accepted frame body. Coordinator payloads are tiny, so any
	// length beyond this is a corrupt or hostile frame.
	coordinatorMaxFrameSize = 1 << 20
)

// CoordinatorLink is a single connection to the coordinator. A link backs
// exactly one admission ticket and is never shared between shards.
type CoordinatorLink struct {
	Logger zerolog.Logger

	conn net.Conn

	sendMu sync.Mutex
}

// OpenCoordinatorLink dials the coordinator. A refused or otherwise
// failed dial returns ErrCoordinatorUnavailable.
func OpenCoordinatorLink(ctx context.Context, logger zerolog.Logger, address string) (*CoordinatorLink, error) {
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("%w: %s", ErrCoordinatorUnavailable, err.Error())
	}

	return &CoordinatorLink{
		Logger: logger,
		conn:   conn,

		sendMu: sync.Mutex{},
	}, nil
}

// Send writes a single frame to the coordinator. This locks the writer.
func (cl *CoordinatorLink) Send(op structs.CoordinatorOp, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal coordinator payload: %w", err)
	}

	frame := make([]byte, coordinatorHeaderSize+len(body))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(op))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(body)))
	copy(frame[coordinatorHeaderSize:], body)

	cl.sendMu.Lock()
	defer cl.sendMu.Unlock()

	_, err = cl.conn.Write(frame)
	if err != nil {
		return fmt.Errorf("failed to write coordinator frame: %w", err)
	}

	return nil
}

// Read reads a single frame from the coordinator.
func (cl *CoordinatorLink) Read() (structs.CoordinatorOp, []byte, error) {
	header := make([]byte, coordinatorHeaderSize)

	_, err := io.ReadFull(cl.conn, header)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read coordinator header: %w", err)
	}

	op := structs.CoordinatorOp(binary.LittleEndian.Uint32(header[0:4]))
	length := binary.LittleEndian.Uint32(header[4:8])

	if length > coordinatorMaxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)

	if length > 0 {
		_, err = io.ReadFull(cl.conn, body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to read coordinator body: %w", err)
		}
	}

	return op, body, nil
}

// AskToConnect requests an identify slot and suspends until the
// coordinator grants it or ctx is done. On cancellation the link is
// closed so the coordinator can discard the request.
func (cl *CoordinatorLink) AskToConnect(ctx context.Context, shardID int32, priority bool) error {
	err := cl.Send(structs.CoordinatorOpAskToConnect, structs.AskToConnect{
		ShardID:  shardID,
		Priority: priority,
	})
	if err != nil {
		return err
	}

	granted := make(chan error, 1)

	go func() {
		for {
			op, body, err := cl.Read()
			if err != nil {
				granted <- err

				return
			}

			if op != structs.CoordinatorOpGranted {
				cl.Logger.Warn().
					Str("op", op.String()).
					Str("body", gotils_strconv.B2S(body)).
					Msg("Received unexpected coordinator frame")

				continue
			}

			var payload structs.Granted

			if err = json.Unmarshal(body, &payload); err != nil {
				granted <- fmt.Errorf("failed to unmarshal granted frame: %w", err)

				return
			}

			if payload.ShardID != shardID {
				continue
			}

			granted <- nil

			return
		}
	}()

	select {
	case err := <-granted:
		if err != nil {
			return fmt.Errorf("failed to wait for admission: %w", err)
		}

		return nil
	case <-ctx.Done():
		cl.Close()

		return ctx.Err()
	}
}

// DoneConnecting releases the identify slot held by a shard.
func (cl *CoordinatorLink) DoneConnecting(shardID int32) error {
	return cl.Send(structs.CoordinatorOpDoneConnecting, structs.DoneConnecting{
		ShardID: shardID,
	})
}

func (cl *CoordinatorLink) Close() error {
	return cl.conn.Close()
}

// CoordinatorGate admits shards through the fleet-wide coordinator. One
// link is opened per admission ticket and closed again on release,
// matching the coordinator's per-call contract.
type CoordinatorGate struct {
	Logger zerolog.Logger

	Address string

	RetryWait   time.Duration
	RetryJitter time.Duration

	linksMu sync.Mutex
	pending map[int32]bool
	links   map[int32]*CoordinatorLink
}

func NewCoordinatorGate(logger zerolog.Logger, address string) *CoordinatorGate {
	return &CoordinatorGate{
		Logger: logger,

		Address: address,

		RetryWait:   CoordinatorRetryWait,
		RetryJitter: CoordinatorRetryJitter,

		linksMu: sync.Mutex{},
		pending: make(map[int32]bool),
		links:   make(map[int32]*CoordinatorLink),
	}
}

// Request suspends until the coordinator admits the shard. When the
// coordinator is unreachable the whole request is retried after
// RetryWait, indefinitely, as transient coordinator restarts are
// expected.
func (cg *CoordinatorGate) Request(ctx context.Context, shardID int32, priority bool) error {
	cg.linksMu.Lock()
	if cg.pending[shardID] || cg.links[shardID] != nil {
		cg.linksMu.Unlock()

		return ErrAdmissionInFlight
	}
	cg.pending[shardID] = true
	cg.linksMu.Unlock()

	defer func() {
		cg.linksMu.Lock()
		delete(cg.pending, shardID)
		cg.linksMu.Unlock()
	}()

	start := time.Now()

	for {
		link, err := OpenCoordinatorLink(ctx, cg.Logger, cg.Address)
		if err == nil {
			err = link.AskToConnect(ctx, shardID, priority)
			if err == nil {
				cg.linksMu.Lock()
				cg.links[shardID] = link
				cg.linksMu.Unlock()

				shepherdAdmissionWaitDuration.Observe(time.Since(start).Seconds())

				return nil
			}

			link.Close()
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		shepherdCoordinatorRetryCount.Inc()

		wait := cg.RetryWait
		if cg.RetryJitter > 0 {
			wait += time.Duration(rand.Int63n(int64(cg.RetryJitter)))
		}

		cg.Logger.Info().
			Err(err).
			Int32("shardId", shardID).
			Dur("wait", wait).
			Msg("Failed to reach coordinator. Waiting before retrying")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release notifies the coordinator the shard finished its identify
// attempt and closes its link. Releasing a shard that holds no ticket is
// a no-op.
func (cg *CoordinatorGate) Release(_ context.Context, shardID int32) error {
	cg.linksMu.Lock()
	link := cg.links[shardID]
	delete(cg.links, shardID)
	cg.linksMu.Unlock()

	if link == nil {
		return nil
	}

	defer link.Close()

	err := link.DoneConnecting(shardID)
	if err != nil {
		return fmt.Errorf("failed to release admission: %w", err)
	}

	return nil
}

// Close releases any still held tickets before closing their links. A
// ticket must never leak across process exit.
func (cg *CoordinatorGate) Close() {
	cg.linksMu.Lock()
	links := cg.links
	cg.links = make(map[int32]*CoordinatorLink)
	cg.linksMu.Unlock()

	for shardID, link := range links {
		err := link.DoneConnecting(shardID)
		if err != nil && !errors.Is(err, net.ErrClosed) {
			cg.Logger.Warn().Err(err).Int32("shardId", shardID).Msg("Failed to release admission on close")
		}

		link.Close()
	}
}
