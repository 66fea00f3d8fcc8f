// Package psock is the public lifecycle and configuration surface: it
// wires the wire codec, batch encoder, send queue/worker, and batch
// reassembler into a single handle modeled on a UDP socket.
package psock

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/minor-way/perfectsock/internal/batch"
	"github.com/minor-way/perfectsock/internal/fec"
	"github.com/minor-way/perfectsock/internal/reassembly"
	"github.com/minor-way/perfectsock/internal/sendqueue"
	"github.com/minor-way/perfectsock/internal/wire"
)

const recvBufferSize = 65535

// Socket is the transport handle returned by Open/OpenAddr.
type Socket struct {
	conn     net.PacketConn
	codec    fec.Codec
	clientID uint32
	cfg      Config

	queue      *sendqueue.Queue
	batchIDs   *sendqueue.BatchIDAllocator
	sendStats  *sendqueue.Stats
	recv       recvStats
	workerStop chan struct{}
	workerDone chan struct{}

	table  *reassembly.Table
	window *reassembly.ProcessedWindow

	closed atomic.Bool
	once   sync.Once
}

// senderAdapter lets Socket's PacketConn satisfy sendqueue.Sender.
type senderAdapter struct{ conn net.PacketConn }

func (s senderAdapter) SendTo(packet []byte, addr net.Addr) error {
	_, err := s.conn.WriteTo(packet, addr)
	return err
}

// Open creates a Socket bound to an ephemeral local UDP port on all
// interfaces; it can both send and receive.
func Open(opts ...Option) (*Socket, error) {
	return OpenAddr("", opts...)
}

// OpenAddr creates a Socket bound to bindAddr (receiver-side use).
func OpenAddr(bindAddr string, opts ...Option) (*Socket, error) {
	laddr := bindAddr
	if laddr == "" {
		laddr = ":0"
	}
	conn, err := net.ListenPacket("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("psock: listen: %w", err)
	}
	if udpConn, ok := conn.(*net.UDPConn); ok {
		_ = udpConn.SetReadBuffer(4 * 1024 * 1024)
		_ = udpConn.SetWriteBuffer(4 * 1024 * 1024)
	}
	return newSocket(conn, opts)
}

// OpenWithConn wraps an arbitrary net.PacketConn as the transport's
// underlying datagram socket collaborator: a real *net.UDPConn, or any
// alternative such as the DNS-carried PacketConn in internal/dnscarrier.
func OpenWithConn(conn net.PacketConn, opts ...Option) (*Socket, error) {
	return newSocket(conn, opts)
}

func newSocket(conn net.PacketConn, opts []Option) (*Socket, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Socket{
		conn:       conn,
		codec:      fec.NewReedSolomon(),
		clientID:   randomClientID(),
		cfg:        cfg,
		queue:      sendqueue.NewQueue(cfg.MaxQueueSize),
		batchIDs:   &sendqueue.BatchIDAllocator{},
		sendStats:  &sendqueue.Stats{},
		workerStop: make(chan struct{}),
		workerDone: make(chan struct{}),
		table:      reassembly.NewTable(),
		window:     reassembly.NewProcessedWindow(cfg.ProcessedMaxLen),
	}

	go func() {
		sendqueue.Run(s.queue, s.workerStop, sendqueue.WorkerConfig{
			ClientID:    s.clientID,
			Codec:       s.codec,
			Sender:      senderAdapter{conn: s.conn},
			BatchIDs:    s.batchIDs,
			SendRetry:   cfg.SendRetry,
			MaxSendRate: cfg.MaxSendRate,
			Stats:       s.sendStats,
			OnSendError: cfg.OnSendError,
		})
		close(s.workerDone)
	}()

	return s, nil
}

func randomClientID() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(b[:])
}

// SendOption configures how a single message is batched; see
// batch.Params for the underlying fields.
type SendOption func(*batch.Params)

// WithMTU overrides the per-fragment MTU used to derive k for this message.
func WithMTU(mtu int) SendOption { return func(p *batch.Params) { p.MTU = mtu } }

// WithMinK overrides the minimum data-fragment count for this message.
func WithMinK(minK int) SendOption { return func(p *batch.Params) { p.MinK = minK } }

// WithRedundancyRatio overrides n/k for this message.
func WithRedundancyRatio(ratio int) SendOption {
	return func(p *batch.Params) { p.RedundancyRatio = ratio }
}

// SendTo enqueues data for asynchronous, best-effort delivery to addr.
func (s *Socket) SendTo(data []byte, addr net.Addr, opts ...SendOption) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}

	params := batch.DefaultParams()
	for _, opt := range opts {
		opt(&params)
	}

	entry := sendqueue.Entry{Data: data, Addr: addr, Params: params, EnqueueTime: time.Now()}

	if s.cfg.DropIfFull {
		if err := s.queue.TryEnqueue(entry); err != nil {
			s.sendStats.QueueFull.Add(1)
			s.sendStats.SendDrop.Add(1)
			if s.cfg.OnQueueFull != nil {
				s.cfg.OnQueueFull(data, addr)
			} else {
				log.Warn().Msg("psock: send queue full, dropping")
			}
		}
		return nil
	}

	s.queue.Enqueue(entry)
	return nil
}

// RecvFrom blocks until one complete message has been reassembled, the
// socket times out, or it is closed.
func (s *Socket) RecvFrom(timeout time.Duration) ([]byte, net.Addr, error) {
	if s.closed.Load() {
		return nil, nil, ErrSocketClosed
	}
	if timeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, recvBufferSize)
	for {
		for _, key := range s.table.SweepExpired(time.Now(), s.cfg.BatchTimeout) {
			s.window.Add(key)
		}

		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if s.closed.Load() {
				return nil, nil, ErrSocketClosed
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, nil, ErrTimeout
			}
			return nil, nil, fmt.Errorf("psock: recvfrom: %w", err)
		}

		h, fragment, err := wire.Unpack(buf[:n])
		if err != nil {
			log.Debug().Err(err).Msg("psock: dropping malformed packet")
			continue
		}

		key := reassembly.KeyOf(h)
		if s.window.Contains(key) {
			continue
		}

		ready, ent := s.table.Insert(h, append([]byte(nil), fragment...), time.Now())
		if ent == nil {
			continue
		}
		if !ready {
			continue
		}

		data, err := reassembly.Decode(s.codec, ent)
		s.table.Delete(key)
		s.window.Add(key)

		if err != nil {
			s.recv.decodeFail.Add(1)
			if s.cfg.OnDecodeError != nil {
				s.cfg.OnDecodeError(err, key)
			} else {
				log.Error().Err(err).Msg("psock: decode failed")
			}
			continue
		}

		s.recv.recvBatch.Add(1)
		return data, addr, nil
	}
}

// Close signals the worker to stop and closes the underlying socket. If
// waitQueue is true, it blocks (bounded by timeout, if positive) until the
// worker has drained the queue. Otherwise it returns without waiting.
// Queued entries are not discarded: the worker keeps taking them from the
// queue after Close returns, and each one it reaches after the socket is
// closed fails to send and is counted in SendFail and passed to
// OnSendError. The same holds for entries still queued when the timeout
// expires.
func (s *Socket) Close(waitQueue bool, timeout time.Duration) error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.workerStop)

		if waitQueue {
			if timeout > 0 {
				select {
				case <-s.workerDone:
				case <-time.After(timeout):
				}
			} else {
				<-s.workerDone
			}
		}

		err = s.conn.Close()
		stats := s.Stats()
		log.Debug().
			Uint64("send_batch", stats.SendBatch).
			Uint64("recv_batch", stats.RecvBatch).
			Uint64("send_drop", stats.SendDrop).
			Uint64("queue_full", stats.QueueFull).
			Uint64("send_fail", stats.SendFail).
			Uint64("decode_fail", stats.DecodeFail).
			Float64("avg_send_delay_s", stats.AvgSendDelayS).
			Msg("psock: final stats")
	})
	return err
}

// Stats returns a point-in-time snapshot of the socket's counters.
func (s *Socket) Stats() Stats {
	return Stats{
		SendBatch:     s.sendStats.SendBatch.Load(),
		RecvBatch:     s.recv.recvBatch.Load(),
		SendDrop:      s.sendStats.SendDrop.Load(),
		SendFail:      s.sendStats.SendFail.Load(),
		QueueFull:     s.sendStats.QueueFull.Load(),
		DecodeFail:    s.recv.decodeFail.Load(),
		AvgSendDelayS: s.sendStats.AvgSendDelaySeconds(),
	}
}

// LocalAddr returns the underlying socket's local address.
func (s *Socket) LocalAddr() net.Addr { return s.conn.LocalAddr() }
