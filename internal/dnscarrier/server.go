package dnscarrier

import (
	"encoding/base32"
	"encoding/base64"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// session holds per-tunnel-client state on the server side, backed by a
// go-cache TTL store that refreshes liveness on every access.
type session struct {
	id          string
	downQueue   chan []byte
	reassembler *chunkReassembler
	mu          sync.Mutex
}

// sessionStore is a thin go-cache wrapper giving each DNS-tunnel session a
// sliding TTL, refreshed on every getOrCreate.
type sessionStore struct {
	cache *gocache.Cache
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{cache: gocache.New(ttl, 2*ttl)}
}

func (s *sessionStore) getOrCreate(id string) *session {
	if v, found := s.cache.Get(id); found {
		sess := v.(*session)
		s.cache.Set(id, sess, gocache.DefaultExpiration)
		return sess
	}
	sess := &session{
		id:          id,
		downQueue:   make(chan []byte, 4000),
		reassembler: newChunkReassembler(),
	}
	s.cache.Set(id, sess, gocache.DefaultExpiration)
	return sess
}

// ServerConn is the server side of the DNS carrier: it implements
// net.PacketConn so a psock.Socket can be opened directly on top of it via
// psock.OpenWithConn, bridging DNS TXT traffic to/from the caller.
type ServerConn struct {
	sessions *sessionStore
	incoming chan packetBundle
}

type packetBundle struct {
	data []byte
	addr net.Addr
}

// sessionAddr identifies a DNS-tunnel peer by session id, standing in for
// a real UDP address.
type sessionAddr struct{ id string }

func (a *sessionAddr) Network() string { return "udp" }
func (a *sessionAddr) String() string  { return a.id }

// NewServerConn returns a ServerConn with sessions expiring after
// sessionTTL of inactivity.
func NewServerConn(sessionTTL time.Duration) *ServerConn {
	return &ServerConn{
		sessions: newSessionStore(sessionTTL),
		incoming: make(chan packetBundle, 1000),
	}
}

// Handler returns a dns.Handler bridging TXT queries under domain into
// this ServerConn.
func (sc *ServerConn) Handler(domain string, maxChunksPerResponse int) dns.HandlerFunc {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	if maxChunksPerResponse <= 0 {
		maxChunksPerResponse = 10
	}

	return func(w dns.ResponseWriter, r *dns.Msg) {
		if len(r.Question) == 0 {
			return
		}
		qName := r.Question[0].Name
		labels := dns.SplitDomainName(qName)
		domainParts := len(dns.SplitDomainName(domain))
		if len(labels) < domainParts+2 {
			return
		}

		sessionIdx := len(labels) - domainParts - 1
		sessionID := strings.ToLower(labels[sessionIdx])
		dataLabel := strings.Join(labels[:sessionIdx], "")

		sess := sc.sessions.getOrCreate(sessionID)

		if !strings.HasPrefix(strings.ToLower(dataLabel), "poll") {
			raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(dataLabel))
			if err == nil {
				sess.mu.Lock()
				full := sess.reassembler.ingest(raw)
				sess.mu.Unlock()
				if full != nil {
					select {
					case sc.incoming <- packetBundle{data: full, addr: &sessionAddr{id: sessionID}}:
					default:
						log.Warn().Str("session", sessionID).Msg("dnscarrier: incoming channel full, dropping")
					}
				}
			} else {
				log.Debug().Err(err).Msg("dnscarrier: base32 decode failed")
			}
		}

		msg := new(dns.Msg)
		msg.SetReply(r)
		msg.Compress = true

		sent := 0
		for sent < maxChunksPerResponse {
			select {
			case chunk := <-sess.downQueue:
				encoded := base64.StdEncoding.EncodeToString(chunk)
				msg.Answer = append(msg.Answer, &dns.TXT{
					Hdr: dns.RR_Header{Name: qName, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 0},
					Txt: []string{encoded},
				})
				sent++
			default:
				w.WriteMsg(msg)
				return
			}
		}
		w.WriteMsg(msg)
	}
}

// --- net.PacketConn implementation, bridging to the caller (e.g. a
// psock.Socket opened via OpenWithConn) ---

func (sc *ServerConn) ReadFrom(p []byte) (int, net.Addr, error) {
	bundle, ok := <-sc.incoming
	if !ok {
		return 0, nil, net.ErrClosed
	}
	return copy(p, bundle.data), bundle.addr, nil
}

func (sc *ServerConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	sAddr, ok := addr.(*sessionAddr)
	if !ok {
		return 0, errInvalidAddr
	}
	sess := sc.sessions.getOrCreate(sAddr.id)
	rng := newRandSource()
	for _, chunk := range splitIntoChunks(p, rng) {
		select {
		case sess.downQueue <- chunk:
		default:
			log.Debug().Str("session", sAddr.id).Msg("dnscarrier: down queue full, dropping chunk")
		}
	}
	return len(p), nil
}

func (sc *ServerConn) Close() error                       { close(sc.incoming); return nil }
func (sc *ServerConn) LocalAddr() net.Addr                { return &sessionAddr{id: "server"} }
func (sc *ServerConn) SetDeadline(t time.Time) error      { return nil }
func (sc *ServerConn) SetReadDeadline(t time.Time) error  { return nil }
func (sc *ServerConn) SetWriteDeadline(t time.Time) error { return nil }
