// loadtest drives a psock sender and receiver pair over real UDP (or,
// with -dns-domain set, over the DNS-tunnel carrier in internal/dnscarrier)
// and prints final statistics, exercising the transport the way the
// teacher's cmd/server and cmd/client mains exercised the DNS tunnel.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/minor-way/perfectsock/internal/dnscarrier"
	"github.com/minor-way/perfectsock/internal/psock"
)

func main() {
	count := flag.Int("count", 100, "number of messages to send")
	size := flag.Int("size", 1200, "message size in bytes")
	rate := flag.Float64("rate", 0, "max send rate in batches/sec (0 = unlimited)")
	logLevel := flag.String("log-level", "info", "debug/info/warn/error")
	dnsDomain := flag.String("dns-domain", "", "if set, tunnel over DNS TXT under this domain instead of plain UDP")
	dnsResolver := flag.String("dns-resolver", "127.0.0.1:5353", "resolver address for -dns-domain mode")

	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	switch *logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	var sender, receiver *psock.Socket
	var recvAddr net.Addr
	var err error

	if *dnsDomain != "" {
		sender, receiver, recvAddr, err = openDNSTunnelPair(*dnsResolver, *dnsDomain, *rate)
	} else {
		sender, receiver, recvAddr, err = openUDPPair(*rate)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open sockets")
	}
	defer sender.Close(true, 5*time.Second)
	defer receiver.Close(true, 5*time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < *count; i++ {
			if _, _, err := receiver.RecvFrom(5 * time.Second); err != nil {
				log.Warn().Err(err).Int("i", i).Msg("recvfrom failed")
				return
			}
		}
	}()

	payload := make([]byte, *size)
	rand.Read(payload)
	for i := 0; i < *count; i++ {
		if err := sender.SendTo(payload, recvAddr); err != nil {
			log.Error().Err(err).Msg("sendto failed")
		}
	}

	<-done

	s := receiver.Stats()
	fmt.Printf("recv_batch=%d decode_fail=%d\n", s.RecvBatch, s.DecodeFail)
	ss := sender.Stats()
	fmt.Printf("send_batch=%d send_drop=%d send_fail=%d avg_delay_s=%.4f\n",
		ss.SendBatch, ss.SendDrop, ss.SendFail, ss.AvgSendDelayS)
}

func openUDPPair(rate float64) (sender, receiver *psock.Socket, recvAddr net.Addr, err error) {
	var opts []psock.Option
	if rate > 0 {
		opts = append(opts, psock.WithMaxSendRate(rate))
	}
	receiver, err = psock.OpenAddr("127.0.0.1:0", opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	sender, err = psock.Open(opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	return sender, receiver, receiver.LocalAddr(), nil
}

func openDNSTunnelPair(resolverAddr, domain string, rate float64) (sender, receiver *psock.Socket, recvAddr net.Addr, err error) {
	var opts []psock.Option
	if rate > 0 {
		opts = append(opts, psock.WithMaxSendRate(rate))
	}

	serverConn := dnscarrier.NewServerConn(5 * time.Minute)
	dnsServer := &dnsServerRunner{addr: resolverAddr, handler: serverConn.Handler(domain, 10)}
	if err := dnsServer.start(); err != nil {
		return nil, nil, nil, err
	}

	receiver, err = psock.OpenWithConn(serverConn, opts...)
	if err != nil {
		return nil, nil, nil, err
	}

	clientConn, err := dnscarrier.NewClientConn(resolverAddr, domain, "loadtest")
	if err != nil {
		return nil, nil, nil, err
	}
	sender, err = psock.OpenWithConn(clientConn, opts...)
	if err != nil {
		return nil, nil, nil, err
	}

	return sender, receiver, clientConn.LocalAddr(), nil
}
