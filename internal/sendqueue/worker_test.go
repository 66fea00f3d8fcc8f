package sendqueue

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/minor-way/perfectsock/internal/batch"
	"github.com/minor-way/perfectsock/internal/fec"
)

type fakeSender struct {
	mu      sync.Mutex
	packets [][]byte
	fail    bool
}

func (f *fakeSender) SendTo(packet []byte, addr net.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return net.ErrClosed
	}
	cp := append([]byte(nil), packet...)
	f.packets = append(f.packets, cp)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.packets)
}

func TestWorkerSendsAllFragmentsThenDrains(t *testing.T) {
	queue := NewQueue(10)
	sender := &fakeSender{}
	stats := &Stats{}
	stop := make(chan struct{})

	cfg := WorkerConfig{
		ClientID: 7,
		Codec:    fec.NewReedSolomon(),
		Sender:   sender,
		BatchIDs: &BatchIDAllocator{},
		Stats:    stats,
	}

	done := make(chan struct{})
	go func() {
		Run(queue, stop, cfg)
		close(done)
	}()

	queue.Enqueue(Entry{Data: []byte("hi"), Params: batch.DefaultParams(), EnqueueTime: time.Now()})

	require.Eventually(t, func() bool { return sender.count() == 8 }, time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(1), stats.SendBatch.Load())

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not drain and stop")
	}
}

func TestWorkerAbortsBatchOnSendFailure(t *testing.T) {
	queue := NewQueue(10)
	sender := &fakeSender{fail: true}
	stats := &Stats{}
	stop := make(chan struct{})

	var sawErr bool
	cfg := WorkerConfig{
		Codec:     fec.NewReedSolomon(),
		Sender:    sender,
		BatchIDs:  &BatchIDAllocator{},
		Stats:     stats,
		SendRetry: 1,
		OnSendError: func(err error, data []byte, addr net.Addr) {
			sawErr = true
		},
	}

	done := make(chan struct{})
	go func() {
		Run(queue, stop, cfg)
		close(done)
	}()

	queue.Enqueue(Entry{Data: []byte("hi"), Params: batch.DefaultParams(), EnqueueTime: time.Now()})
	require.Eventually(t, func() bool { return stats.SendFail.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, sawErr)
	require.Equal(t, uint64(0), stats.SendBatch.Load())
	require.Equal(t, 0, sender.count())

	close(stop)
	<-done
}

func TestBatchIDAllocatorMonotonic(t *testing.T) {
	a := &BatchIDAllocator{}
	require.Equal(t, uint32(1), a.Next())
	require.Equal(t, uint32(2), a.Next())
}
