package shepherd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/FlockTeam/Shepherd-Daemon/structs"
	"github.com/rs/zerolog"
)

// testCoordinator is an in-process coordinator that grants one identify
// slot at a time, serving priority requests first and FIFO within the
// same priority class.
type testCoordinator struct {
	listener net.Listener

	mu     sync.Mutex
	queue  []*pendingRequest
	events []string

	kick   chan struct{}
	closed chan struct{}
}

type pendingRequest struct {
	shardID  int32
	priority bool
	grant    chan struct{}
	finished chan struct{}
}

func startTestCoordinator(t *testing.T) *testCoordinator {
	t.Helper()

	return startTestCoordinatorOn(t, "127.0.0.1:0")
}

func startTestCoordinatorOn(t *testing.T, address string) *testCoordinator {
	t.Helper()

	listener, err := net.Listen("tcp", address)
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	tc := &testCoordinator{
		listener: listener,
		kick:     make(chan struct{}, 64),
		closed:   make(chan struct{}),
	}

	go tc.acceptLoop()
	go tc.dispatchLoop()

	t.Cleanup(tc.Close)

	return tc
}

func (tc *testCoordinator) Address() string {
	return tc.listener.Addr().String()
}

func (tc *testCoordinator) Close() {
	select {
	case <-tc.closed:
	default:
		close(tc.closed)
		tc.listener.Close()
	}
}

func (tc *testCoordinator) Events() []string {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	events := make([]string, len(tc.events))
	copy(events, tc.events)

	return events
}

func (tc *testCoordinator) CountEvents(prefix string) int {
	count := 0

	for _, event := range tc.Events() {
		if strings.HasPrefix(event, prefix) {
			count++
		}
	}

	return count
}

func (tc *testCoordinator) acceptLoop() {
	for {
		conn, err := tc.listener.Accept()
		if err != nil {
			return
		}

		go tc.handleConn(conn)
	}
}

func (tc *testCoordinator) handleConn(conn net.Conn) {
	defer conn.Close()

	for {
		op, body, err := readTestFrame(conn)
		if err != nil {
			return
		}

		if op != structs.CoordinatorOpAskToConnect {
			continue
		}

		var ask structs.AskToConnect

		if err = json.Unmarshal(body, &ask); err != nil {
			return
		}

		req := &pendingRequest{
			shardID:  ask.ShardID,
			priority: ask.Priority,
			grant:    make(chan struct{}),
			finished: make(chan struct{}),
		}

		tc.mu.Lock()
		tc.queue = append(tc.queue, req)
		tc.events = append(tc.events, fmt.Sprintf("ask:%d", ask.ShardID))
		tc.mu.Unlock()

		select {
		case tc.kick <- struct{}{}:
		default:
		}

		select {
		case <-req.grant:
		case <-tc.closed:
			return
		}

		if err = writeTestFrame(conn, structs.CoordinatorOpGranted, structs.Granted{ShardID: ask.ShardID}); err != nil {
			close(req.finished)

			return
		}

		op, _, err = readTestFrame(conn)
		if err != nil {
			close(req.finished)

			return
		}

		if op == structs.CoordinatorOpDoneConnecting {
			tc.mu.Lock()
			tc.events = append(tc.events, fmt.Sprintf("done:%d", ask.ShardID))
			tc.mu.Unlock()
		}

		close(req.finished)
	}
}

func (tc *testCoordinator) dispatchLoop() {
	for {
		req := tc.nextRequest()
		if req == nil {
			select {
			case <-tc.kick:
				continue
			case <-tc.closed:
				return
			}
		}

		tc.mu.Lock()
		tc.events = append(tc.events, fmt.Sprintf("grant:%d", req.shardID))
		tc.mu.Unlock()

		close(req.grant)

		select {
		case <-req.finished:
		case <-tc.closed:
			return
		}
	}
}

func (tc *testCoordinator) nextRequest() *pendingRequest {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if len(tc.queue) == 0 {
		return nil
	}

	index := -1

	for i, req := range tc.queue {
		if req.priority {
			index = i

			break
		}
	}

	if index == -1 {
		index = 0
	}

	req := tc.queue[index]
	tc.queue = append(tc.queue[:index], tc.queue[index+1:]...)

	return req
}

func readTestFrame(conn net.Conn) (structs.CoordinatorOp, []byte, error) {
	header := make([]byte, coordinatorHeaderSize)

	if _, err := io.ReadFull(conn, header); err != nil {
		return 0, nil, err
	}

	op := structs.CoordinatorOp(binary.LittleEndian.Uint32(header[0:4]))
	length := binary.LittleEndian.Uint32(header[4:8])

	body := make([]byte, length)

	if length > 0 {
		if _, err := io.ReadFull(conn, body); err != nil {
			return 0, nil, err
		}
	}

	return op, body, nil
}

func writeTestFrame(conn net.Conn, op structs.CoordinatorOp, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	frame := make([]byte, coordinatorHeaderSize+len(body))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(op))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(body)))
	copy(frame[coordinatorHeaderSize:], body)

	_, err = conn.Write(frame)

	return err
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		if condition() {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", what)
}

func TestCoordinatorGateRequestRelease(t *testing.T) {
	tc := startTestCoordinator(t)

	gate := NewCoordinatorGate(zerolog.Nop(), tc.Address())

	err := gate.Request(context.Background(), 0, false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	err = gate.Release(context.Background(), 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	waitFor(t, "ask/grant/done sequence", func() bool {
		events := tc.Events()

		return len(events) == 3 &&
			events[0] == "ask:0" &&
			events[1] == "grant:0" &&
			events[2] == "done:0"
	})
}

func TestCoordinatorGatePriorityOrdering(t *testing.T) {
	tc := startTestCoordinator(t)

	gate := NewCoordinatorGate(zerolog.Nop(), tc.Address())

	// Shard 0 holds the only slot while the others queue up.
	err := gate.Request(context.Background(), 0, false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var wg sync.WaitGroup

	requestAndRelease := func(shardID int32, priority bool) {
		defer wg.Done()

		if err := gate.Request(context.Background(), shardID, priority); err != nil {
			t.Errorf("Unexpected error for shard %d: %v", shardID, err)

			return
		}

		if err := gate.Release(context.Background(), shardID); err != nil {
			t.Errorf("Unexpected error for shard %d: %v", shardID, err)
		}
	}

	wg.Add(2)
	go requestAndRelease(1, false)
	go requestAndRelease(2, false)

	waitFor(t, "non-priority requests pending", func() bool {
		return tc.CountEvents("ask:") == 3
	})

	wg.Add(1)
	go requestAndRelease(3, true)

	waitFor(t, "priority request pending", func() bool {
		return tc.CountEvents("ask:") == 4
	})

	err = gate.Release(context.Background(), 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	wg.Wait()

	grants := make([]string, 0, 4)

	for _, event := range tc.Events() {
		if strings.HasPrefix(event, "grant:") {
			grants = append(grants, event)
		}
	}

	if len(grants) != 4 {
		t.Fatalf("Expected 4 grants, but got %v", grants)
	}

	if grants[0] != "grant:0" {
		t.Errorf("Expected grant:0 first, but got %v", grants)
	}

	if grants[1] != "grant:3" {
		t.Errorf("Expected priority request granted ahead of pending requests, but got %v", grants)
	}
}

func TestCoordinatorGateUnavailableRetry(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	address := listener.Addr().String()
	listener.Close()

	gate := NewCoordinatorGate(zerolog.Nop(), address)
	gate.RetryWait = 50 * time.Millisecond
	gate.RetryJitter = 10 * time.Millisecond

	start := time.Now()
	result := make(chan error, 1)

	go func() {
		result <- gate.Request(context.Background(), 0, false)
	}()

	// Bring the coordinator up while the gate is backing off.
	time.Sleep(20 * time.Millisecond)
	tc := startTestCoordinatorOn(t, address)

	select {
	case err = <-result:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for admission")
	}

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if elapsed := time.Since(start); elapsed < gate.RetryWait {
		t.Errorf("Expected at least one backoff of %v, but request returned after %v", gate.RetryWait, elapsed)
	}

	if asks := tc.CountEvents("ask:"); asks != 1 {
		t.Errorf("Expected exactly 1 admission request, but got %d", asks)
	}

	err = gate.Release(context.Background(), 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestCoordinatorGateDuplicateRequest(t *testing.T) {
	tc := startTestCoordinator(t)

	gate := NewCoordinatorGate(zerolog.Nop(), tc.Address())

	err := gate.Request(context.Background(), 0, false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	err = gate.Request(context.Background(), 0, false)
	if !errors.Is(err, ErrAdmissionInFlight) {
		t.Errorf("Expected ErrAdmissionInFlight, but got %v", err)
	}

	err = gate.Release(context.Background(), 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestCoordinatorGateCancelledRequest(t *testing.T) {
	tc := startTestCoordinator(t)

	gate := NewCoordinatorGate(zerolog.Nop(), tc.Address())

	// Shard 0 holds the only slot so shard 1 stays queued.
	err := gate.Request(context.Background(), 0, false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)

	go func() {
		result <- gate.Request(ctx, 1, false)
	}()

	waitFor(t, "queued request", func() bool {
		return tc.CountEvents("ask:1") == 1
	})

	cancel()

	select {
	case err = <-result:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for cancellation")
	}

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, but got %v", err)
	}

	// The abandoned request must not block a fresh one for the shard.
	err = gate.Release(context.Background(), 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	err = gate.Request(context.Background(), 1, false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	err = gate.Release(context.Background(), 1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestCoordinatorGateCloseReleasesHeldTicket(t *testing.T) {
	tc := startTestCoordinator(t)

	gate := NewCoordinatorGate(zerolog.Nop(), tc.Address())

	err := gate.Request(context.Background(), 0, false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// Closing with the ticket still held must surface as a release at
	// the coordinator, not a dropped connection.
	gate.Close()

	waitFor(t, "held ticket released", func() bool {
		return tc.CountEvents("done:0") == 1
	})
}

func TestCoordinatorLinkRejectsOversizedFrame(t *testing.T) {
	client, server := net.Pipe()

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	link := &CoordinatorLink{
		Logger: zerolog.Nop(),
		conn:   client,
	}

	go func() {
		header := make([]byte, coordinatorHeaderSize)
		binary.LittleEndian.PutUint32(header[0:4], uint32(structs.CoordinatorOpGranted))
		binary.LittleEndian.PutUint32(header[4:8], 0xFFFFFFFF)

		server.Write(header)
	}()

	_, _, err := link.Read()
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, but got %v", err)
	}
}
