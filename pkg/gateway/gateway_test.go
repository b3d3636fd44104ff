package gateway

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giongto35/rtc-gateway/pkg/config"
	"github.com/giongto35/rtc-gateway/pkg/logger"
	"github.com/giongto35/rtc-gateway/pkg/network/websocket"
	"github.com/giongto35/rtc-gateway/pkg/room"
	"github.com/giongto35/rtc-gateway/pkg/worker"
)

var testLog = logger.NewWriter(io.Discard)

type fakeWorker struct {
	pid     int
	died    chan struct{}
	err     error
	failing bool
}

func newFakeWorker(pid int) *fakeWorker { return &fakeWorker{pid: pid, died: make(chan struct{})} }

func (w *fakeWorker) Pid() int              { return w.pid }
func (w *fakeWorker) Died() <-chan struct{} { return w.died }
func (w *fakeWorker) Err() error            { return w.err }
func (w *fakeWorker) Close()                {}
func (w *fakeWorker) NewRouter([]config.MediaCodec) (*worker.Router, error) {
	return nil, errors.New("no engine")
}
func (w *fakeWorker) ResourceUsage() (worker.Usage, error) {
	if w.failing {
		return worker.Usage{}, errors.New("no usage")
	}
	return worker.Usage{Pid: w.pid}, nil
}
func (w *fakeWorker) Dump() (worker.Dump, error) {
	if w.failing {
		return worker.Dump{}, errors.New("no dump")
	}
	return worker.Dump{Pid: w.pid}, nil
}

func (w *fakeWorker) kill(err error) {
	w.err = err
	close(w.died)
}

type fakeRoom struct {
	id       string
	w        Worker
	replicas int

	mu      sync.Mutex
	closed  bool
	onClose []func()

	// closes the room on the first Closed call
	closeOnCheck bool

	peers    chan string
	statuses atomic.Int32
}

func (r *fakeRoom) ID() string { return r.id }
func (r *fakeRoom) OnClose(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClose = append(r.onClose, fn)
}
func (r *fakeRoom) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	fns := r.onClose
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
func (r *fakeRoom) markClosed() { r.mu.Lock(); r.closed = true; r.mu.Unlock() }
func (r *fakeRoom) Closed() bool {
	r.mu.Lock()
	if r.closeOnCheck {
		r.closeOnCheck = false
		r.mu.Unlock()
		r.Close()
		return true
	}
	defer r.mu.Unlock()
	return r.closed
}
func (r *fakeRoom) LogStatus() { r.statuses.Add(1) }
func (r *fakeRoom) HandleConnection(peerId string, conn *websocket.WS) {
	conn.Listen()
	r.peers <- peerId
}
func (r *fakeRoom) RouterRtpCapabilities() worker.RtpCapabilities { return worker.RtpCapabilities{} }
func (r *fakeRoom) CreateBroadcaster(room.BroadcasterRequest) (*room.BroadcasterInfo, error) {
	return &room.BroadcasterInfo{}, nil
}
func (r *fakeRoom) DeleteBroadcaster(string) error { return nil }
func (r *fakeRoom) CreateBroadcasterTransport(string, room.TransportRequest) (*room.TransportInfo, error) {
	return &room.TransportInfo{}, nil
}
func (r *fakeRoom) ConnectBroadcasterTransport(string, string, room.ConnectWebRtcTransportRequest) error {
	return nil
}
func (r *fakeRoom) ConnectPlainTransport(string, string, room.PlainConnectRequest) error { return nil }
func (r *fakeRoom) CreateBroadcasterProducer(string, string, room.ProducerRequest) (*room.ProducerInfo, error) {
	return &room.ProducerInfo{}, nil
}

// fakeFactory counts created rooms.
type fakeFactory struct {
	created atomic.Int32
	fail    bool
	peers   chan string

	// the first room closes as soon as it is checked
	closeFirst bool
}

func (f *fakeFactory) New(w Worker, roomId string, consumerReplicas int) (Room, error) {
	if f.fail {
		return nil, errors.New("no room")
	}
	n := f.created.Add(1)
	// slow creation widens the race window
	time.Sleep(time.Millisecond)
	return &fakeRoom{
		id:           roomId,
		w:            w,
		replicas:     consumerReplicas,
		peers:        f.peers,
		closeOnCheck: f.closeFirst && n == 1,
	}, nil
}

func newTestQueue(t *testing.T) *Queue {
	q := NewQueue()
	q.Run()
	t.Cleanup(func() { _ = q.Stop() })
	return q
}

func newTestRegistry(t *testing.T, f *fakeFactory, workers ...Worker) *Registry {
	return NewRegistry(NewPool(workers...), f.New, newTestQueue(t), NewSupervisor(testLog), testLog)
}

func TestQueueFIFO(t *testing.T) {
	q := newTestQueue(t)

	release, started := make(chan struct{}), make(chan struct{})
	go func() { _ = q.Do(func() error { close(started); <-release; return nil }) }()
	<-started

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	n := 10
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.Do(func() error { mu.Lock(); order = append(order, i); mu.Unlock(); return nil })
		}(i)
		for len(q.tasks) != i+1 {
			time.Sleep(time.Millisecond)
		}
	}
	close(release)
	wg.Wait()

	for i, v := range order {
		if v != i {
			t.Fatalf("wrong order %v", order)
		}
	}
}

func TestQueueFailureIsolation(t *testing.T) {
	q := newTestQueue(t)
	boom := errors.New("boom")

	if err := q.Do(func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("expected the task error, got %v", err)
	}
	if err := q.Do(func() error { panic("oops") }); err == nil {
		t.Errorf("panic was not reported")
	}
	ran := false
	if err := q.Do(func() error { ran = true; return nil }); err != nil || !ran {
		t.Errorf("queue is broken after failures, err: %v", err)
	}

	_ = q.Stop()
	if err := q.Do(func() error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}

func TestRoundRobin(t *testing.T) {
	f := &fakeFactory{}
	reg := newTestRegistry(t, f, newFakeWorker(0), newFakeWorker(1))

	for i, test := range []struct {
		room string
		pid  int
	}{{"A", 0}, {"B", 1}, {"C", 0}, {"A", 0}} {
		r, err := reg.GetOrCreate(test.room, 0)
		if err != nil {
			t.Fatal(err)
		}
		if pid := r.(*fakeRoom).w.Pid(); pid != test.pid {
			t.Errorf("%v: room %v is on worker %v, expected %v", i, test.room, pid, test.pid)
		}
	}
	if f.created.Load() != 3 {
		t.Errorf("expected 3 rooms, got %v", f.created.Load())
	}
}

func TestConcurrentGetOrCreate(t *testing.T) {
	f := &fakeFactory{}
	reg := newTestRegistry(t, f, newFakeWorker(0), newFakeWorker(1))

	n := 32
	rooms := make([]Room, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := reg.GetOrCreate("R1", i)
			if err != nil {
				t.Error(err)
			}
			rooms[i] = r
		}(i)
	}
	wg.Wait()

	if f.created.Load() != 1 {
		t.Fatalf("expected exactly one room, got %v", f.created.Load())
	}
	for _, r := range rooms {
		if r != rooms[0] {
			t.Fatalf("different room instances")
		}
	}
}

func TestEviction(t *testing.T) {
	f := &fakeFactory{}
	reg := newTestRegistry(t, f, newFakeWorker(0), newFakeWorker(1))

	a, _ := reg.GetOrCreate("A", 0)
	a.Close()
	if reg.Len() != 0 {
		t.Fatalf("closed room was not evicted")
	}
	b, err := reg.GetOrCreate("A", 0)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("closed room was returned")
	}
	if pid := b.(*fakeRoom).w.Pid(); pid != 1 {
		t.Errorf("recreated room should go to the next worker, got %v", pid)
	}

	// a stale close callback must not evict the new instance
	stale := &fakeRoom{id: "A"}
	stale.OnClose(func() { reg.evict("A", stale) })
	stale.Close()
	if r, err := reg.Find("A"); err != nil || r != b {
		t.Errorf("new room was evicted by a stale one")
	}
}

func TestClosedButNotEvicted(t *testing.T) {
	f := &fakeFactory{}
	reg := newTestRegistry(t, f, newFakeWorker(0))

	a, _ := reg.GetOrCreate("A", 0)
	// close without the callbacks
	a.(*fakeRoom).markClosed()
	b, _ := reg.GetOrCreate("A", 0)
	if a == b || b.Closed() {
		t.Errorf("a closed room was reused")
	}
}

func TestFactoryFailure(t *testing.T) {
	f := &fakeFactory{fail: true}
	reg := newTestRegistry(t, f, newFakeWorker(0))

	if _, err := reg.GetOrCreate("A", 0); err == nil {
		t.Errorf("no error")
	}
	if reg.Len() != 0 {
		t.Errorf("failed room is registered")
	}
}

func TestNoWorkers(t *testing.T) {
	reg := newTestRegistry(t, &fakeFactory{})
	if _, err := reg.GetOrCreate("A", 0); !errors.Is(err, ErrNoWorkers) {
		t.Errorf("expected ErrNoWorkers, got %v", err)
	}
}

func TestDrainWhileQueued(t *testing.T) {
	f := &fakeFactory{}
	reg := newTestRegistry(t, f, newFakeWorker(0))

	release, started := make(chan struct{}), make(chan struct{})
	go func() { _ = reg.queue.Do(func() error { close(started); <-release; return nil }) }()
	<-started

	errs := make(chan error, 1)
	go func() {
		_, err := reg.GetOrCreate("A", 0)
		errs <- err
	}()
	for len(reg.queue.tasks) == 0 {
		time.Sleep(time.Millisecond)
	}
	reg.sup.Drain(errors.New("worker died"))
	close(release)

	select {
	case err := <-errs:
		if !errors.Is(err, ErrDraining) {
			t.Errorf("expected ErrDraining, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("queued admission hangs")
	}
	if f.created.Load() != 0 || reg.Len() != 0 {
		t.Errorf("room was created after the drain")
	}
}

func TestSupervisor(t *testing.T) {
	s := NewSupervisor(testLog)
	if s.State() != Running || s.Admit() != nil {
		t.Fatalf("new supervisor is not running")
	}

	w := newFakeWorker(7)
	s.Watch([]Worker{newFakeWorker(1), w})
	w.kill(errors.New("segfault"))

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("no shutdown on a worker death")
	}
	if s.State() != Draining {
		t.Errorf("expected draining, got %v", s.State())
	}
	if !errors.Is(s.Admit(), ErrDraining) {
		t.Errorf("draining supervisor admits")
	}
	if s.Err() == nil {
		t.Errorf("no death cause")
	}
	if s.Drain(errors.New("again")) {
		t.Errorf("second drain")
	}

	s.Terminate()
	if s.State() != Terminated {
		t.Errorf("expected terminated, got %v", s.State())
	}
	if s.Drain(errors.New("late")) || s.State() != Terminated {
		t.Errorf("terminated supervisor went back")
	}
}

func TestStatusReporter(t *testing.T) {
	f := &fakeFactory{}
	reg := newTestRegistry(t, f, newFakeWorker(0))

	open, _ := reg.GetOrCreate("open", 0)
	closed, _ := reg.GetOrCreate("closed", 0)
	// closed meanwhile, still in the snapshot
	closed.(*fakeRoom).markClosed()

	reportStatus(reg)
	if n := open.(*fakeRoom).statuses.Load(); n != 1 {
		t.Errorf("open room status logged %v times", n)
	}
	if n := closed.(*fakeRoom).statuses.Load(); n != 0 {
		t.Errorf("closed room status logged %v times", n)
	}
}

func TestHealthReporter(t *testing.T) {
	broken := newFakeWorker(1)
	broken.failing = true
	pool := NewPool(newFakeWorker(0), broken)
	// must not panic nor stop on failures
	reportHealth(pool, testLog)

	r := NewHealthReporter(pool, time.Millisecond, testLog)
	r.Run()
	time.Sleep(5 * time.Millisecond)
	if err := r.Stop(); err != nil {
		t.Error(err)
	}
}

func TestPoolNext(t *testing.T) {
	pool := NewPool(newFakeWorker(0), newFakeWorker(1), newFakeWorker(2))
	var got []int
	for i := 0; i < 7; i++ {
		got = append(got, pool.Next().Pid())
	}
	if fmt.Sprint(got) != "[0 1 2 0 1 2 0]" {
		t.Errorf("wrong rotation %v", got)
	}
	if NewPool().Next() != nil {
		t.Errorf("empty pool returns a worker")
	}
}
