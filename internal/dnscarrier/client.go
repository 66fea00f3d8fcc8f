package dnscarrier

import (
	"encoding/base32"
	"encoding/base64"
	"errors"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog/log"
)

const (
	txQueueSize  = 2000
	rxQueueSize  = 2000
	numTxWorkers = 8
	pollInterval = 25 * time.Millisecond
	writeTimeout = 5 * time.Second
)

// ClientConn carries net.PacketConn traffic over DNS TXT queries against a
// resolver, for a single logical session, generalized to carry opaque
// perfectsock fragments as payload.
type ClientConn struct {
	resolver  *net.UDPAddr
	domain    string
	sessionID string
	conn      *net.UDPConn

	rxQueue   chan []byte
	txQueue   chan []byte
	closeOnce sync.Once
	done      chan struct{}

	reassembler *chunkReassembler
	reMu        sync.Mutex

	rng   *rand.Rand
	rngMu sync.Mutex
}

// NewClientConn dials resolverAddr and carries traffic tagged under
// sessionID within domain (e.g. "n.example.com").
func NewClientConn(resolverAddr, domain, sessionID string) (*ClientConn, error) {
	rAddr, err := net.ResolveUDPAddr("udp", resolverAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadBuffer(4 * 1024 * 1024)

	c := &ClientConn{
		resolver:    rAddr,
		domain:      strings.TrimSuffix(domain, "."),
		sessionID:   sessionID,
		conn:        conn,
		rxQueue:     make(chan []byte, rxQueueSize),
		txQueue:     make(chan []byte, txQueueSize),
		done:        make(chan struct{}),
		reassembler: newChunkReassembler(),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	c.startTxWorkers()
	c.startRxEngine()
	c.startPollEngine()
	return c, nil
}

func (c *ClientConn) nextRand() *rand.Rand {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return c.rng
}

// LocalAddr reports a spoofed loopback address: the carrier has no real
// local UDP identity from the caller's point of view.
func (c *ClientConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
}

func (c *ClientConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *ClientConn) SetWriteDeadline(t time.Time) error { return nil }
func (c *ClientConn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }

func (c *ClientConn) Close() error {
	c.closeOnce.Do(func() { close(c.done); c.conn.Close() })
	return nil
}

// WriteTo ignores addr (the carrier has exactly one peer: the resolver)
// and queues p, chunked, for transmission by the tx workers.
func (c *ClientConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	chunks := splitIntoChunks(p, c.nextRand())
	for _, chunk := range chunks {
		select {
		case c.txQueue <- chunk:
		case <-time.After(writeTimeout):
			log.Warn().Msg("dnscarrier: tx queue full, dropping packet")
			return 0, nil
		case <-c.done:
			return 0, net.ErrClosed
		}
	}
	return len(p), nil
}

// ReadFrom blocks until a full packet has been reassembled from inbound
// DNS responses.
func (c *ClientConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case data := <-c.rxQueue:
		return copy(p, data), c.LocalAddr(), nil
	case <-c.done:
		return 0, nil, net.ErrClosed
	}
}

func (c *ClientConn) startTxWorkers() {
	suffix := "." + c.sessionID + "." + c.domain + "."
	for i := 0; i < numTxWorkers; i++ {
		go func() {
			for {
				select {
				case chunk := <-c.txQueue:
					encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(chunk)
					qname := splitLabels(encoded, 57) + suffix

					msg := new(dns.Msg)
					msg.SetQuestion(qname, dns.TypeTXT)
					buf, err := msg.Pack()
					if err != nil {
						continue
					}
					c.conn.WriteToUDP(buf, c.resolver)
				case <-c.done:
					return
				}
			}
		}()
	}
}

func (c *ClientConn) startRxEngine() {
	go func() {
		buf := make([]byte, 4096)
		for {
			n, _, err := c.conn.ReadFromUDP(buf)
			if err != nil {
				select {
				case <-c.done:
					return
				default:
					continue
				}
			}
			msg := new(dns.Msg)
			if err := msg.Unpack(buf[:n]); err != nil {
				continue
			}
			for _, ans := range msg.Answer {
				txt, ok := ans.(*dns.TXT)
				if !ok {
					continue
				}
				raw, err := base64.StdEncoding.DecodeString(strings.Join(txt.Txt, ""))
				if err != nil || len(raw) == 0 {
					continue
				}
				c.reMu.Lock()
				full := c.reassembler.ingest(raw)
				c.reMu.Unlock()
				if full != nil {
					select {
					case c.rxQueue <- full:
					default:
						log.Warn().Msg("dnscarrier: rx queue full, dropping")
					}
				}
			}
		}
	}()
}

func (c *ClientConn) startPollEngine() {
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sendPoll()
			case <-c.done:
				return
			}
		}
	}()
}

func (c *ClientConn) sendPoll() {
	nonce := make([]byte, 4)
	c.rngMu.Lock()
	c.rng.Read(nonce)
	c.rngMu.Unlock()
	nonceStr := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(nonce)
	qname := "poll." + nonceStr + "." + c.sessionID + "." + c.domain + "."
	msg := new(dns.Msg)
	msg.SetQuestion(qname, dns.TypeTXT)
	buf, err := msg.Pack()
	if err != nil {
		return
	}
	c.conn.WriteToUDP(buf, c.resolver)
}

func splitLabels(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i += maxLen {
		if i > 0 {
			b.WriteByte('.')
		}
		end := i + maxLen
		if end > len(s) {
			end = len(s)
		}
		b.WriteString(s[i:end])
	}
	return b.String()
}

var errInvalidAddr = errors.New("dnscarrier: invalid address type")
