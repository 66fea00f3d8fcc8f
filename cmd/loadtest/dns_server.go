package main

import (
	"github.com/miekg/dns"
	"github.com/rs/zerolog/log"
)

// dnsServerRunner starts a background DNS server for -dns-domain mode.
type dnsServerRunner struct {
	addr    string
	handler dns.HandlerFunc
}

func (r *dnsServerRunner) start() error {
	server := &dns.Server{Addr: r.addr, Net: "udp", Handler: r.handler}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	go func() {
		if err := <-errCh; err != nil {
			log.Error().Err(err).Msg("loadtest: dns server stopped")
		}
	}()
	return nil
}
