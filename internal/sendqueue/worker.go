package sendqueue

import (
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/minor-way/perfectsock/internal/batch"
	"github.com/minor-way/perfectsock/internal/fec"
	"github.com/minor-way/perfectsock/internal/wire"
)

// Sender is the underlying datagram socket's send side, injected so the
// worker never holds a concrete net.UDPConn — any net.PacketConn (or the
// DNS-tunnel carrier in internal/dnscarrier) can play this role.
type Sender interface {
	SendTo(packet []byte, addr net.Addr) error
}

// pollInterval bounds how long the worker blocks on an empty queue before
// re-checking the stop flag.
const pollInterval = 100 * time.Millisecond

// retryBackoff is the pause between retried fragment sends.
const retryBackoff = 10 * time.Millisecond

// WorkerConfig bundles everything the worker needs beyond the Queue itself.
type WorkerConfig struct {
	ClientID    uint32
	Codec       fec.Codec
	Sender      Sender
	BatchIDs    *BatchIDAllocator
	SendRetry   int
	MaxSendRate float64 // batches/sec; 0 disables the cap
	Stats       *Stats
	OnSendError func(err error, data []byte, addr net.Addr)
}

// Run drains queue until stop is closed and the queue is empty, encoding
// and transmitting one batch per dequeued entry. It returns when fully
// drained, so callers can Close() with wait semantics by joining this call.
func Run(queue *Queue, stop <-chan struct{}, cfg WorkerConfig) {
	var lastSend time.Time

	for {
		var entry Entry
		var got bool

		select {
		case e, ok := <-queue.ch:
			if ok {
				entry, got = e, true
			}
		case <-time.After(pollInterval):
		}

		if !got {
			select {
			case <-stop:
				if queue.Len() == 0 {
					return
				}
			default:
			}
			continue
		}

		sendBatch(queue, entry, cfg)

		if cfg.MaxSendRate > 0 {
			interval := time.Duration(float64(time.Second) / cfg.MaxSendRate)
			elapsed := time.Since(lastSend)
			if elapsed < interval {
				time.Sleep(interval - elapsed)
			}
			lastSend = time.Now()
		}
	}
}

func sendBatch(queue *Queue, entry Entry, cfg WorkerConfig) {
	batchID := cfg.BatchIDs.Next()

	b, err := batch.Encode(cfg.Codec, entry.Data, entry.Params)
	if err != nil {
		log.Error().Err(err).Msg("sendqueue: batch encode failed")
		cfg.Stats.SendFail.Add(1)
		if cfg.OnSendError != nil {
			cfg.OnSendError(err, entry.Data, entry.Addr)
		}
		return
	}

	for idx, fragment := range b.Fragments {
		header := wire.Header{
			ClientID: cfg.ClientID,
			BatchID:  batchID,
			Idx:     uint8(idx),
			K:       uint8(b.K),
			N:       uint8(b.N),
			OrigLen: uint16(b.OrigLen),
		}
		packet, err := wire.Pack(make([]byte, 0, wire.HeaderLen+len(fragment)), header)
		if err != nil {
			log.Error().Err(err).Msg("sendqueue: pack header failed")
			cfg.Stats.SendFail.Add(1)
			return
		}
		packet = append(packet, fragment...)

		if !sendFragmentWithRetry(cfg, packet, entry) {
			// Partial batch: stop sending the rest of this batch.
			return
		}
	}

	cfg.Stats.SendBatch.Add(1)
	cfg.Stats.SendTotalDelay.Add(int64(time.Since(entry.EnqueueTime)))
}

func sendFragmentWithRetry(cfg WorkerConfig, packet []byte, entry Entry) bool {
	var lastErr error
	for attempt := 0; attempt <= cfg.SendRetry; attempt++ {
		if err := cfg.Sender.SendTo(packet, entry.Addr); err != nil {
			lastErr = err
			if attempt < cfg.SendRetry {
				time.Sleep(retryBackoff)
				continue
			}
			break
		}
		return true
	}

	cfg.Stats.SendFail.Add(1)
	log.Error().Err(lastErr).Msg("sendqueue: send failed, aborting batch")
	if cfg.OnSendError != nil {
		cfg.OnSendError(lastErr, entry.Data, entry.Addr)
	}
	return false
}
