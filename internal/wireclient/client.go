package wireclient

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hut8/soar-ingest/internal/envelope"
)

// ReadTimeout is the per-read inactivity timeout after which a connection
// is considered dead (§4.1 step 3).
const ReadTimeout = 300 * time.Second

// MaxBackoff caps the reconnect delay (§4.1 "Reconnect policy").
const MaxBackoff = 60 * time.Second

// Sink receives framed envelopes as they are produced. Implementations
// (the persistent queue, in production) must not block indefinitely; the
// client calls Offer once per frame and logs+continues on error.
type Sink interface {
	Offer(env envelope.Envelope) error
}

// Config describes one upstream TCP endpoint to maintain a connection to.
type Config struct {
	Name   string // used in logs/metrics, e.g. "ogn", "beast", "sbs"
	Server string
	Port   int
	Source envelope.Source
}

// Client runs the shared connect/frame/reconnect loop described in
// spec.md §4.1. Construct one per upstream source, supplying a Framer
// appropriate to that source's wire format.
//
// Grounded on original_source/src/beast/client.rs's connect_and_run
// (DNS resolve, IPv4-preferred shuffle, per-address dial attempts) and
// its start() outer exponential-backoff retry loop; generalized here to
// also drive the OGN and SBS line framers. Run does not reset its backoff
// after a successful connection or read: each reconnect waits the next
// delay of the same sequence, capped at MaxBackoff.
type Client struct {
	cfg    Config
	framer Framer
	sink   Sink

	onConnect    func()
	onDisconnect func(err error)
}

// New constructs a Client. onConnect/onDisconnect may be nil; when set
// they are invoked for connection-established / connection-lost events.
func New(cfg Config, framer Framer, sink Sink, onConnect func(), onDisconnect func(err error)) *Client {
	return &Client{cfg: cfg, framer: framer, sink: sink, onConnect: onConnect, onDisconnect: onDisconnect}
}

// Run drives the client until ctx is cancelled. It never returns except
// on context cancellation: all transient errors are reconnects (§4.1
// "Failure semantics").
func (c *Client) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 0
	b.Multiplier = 2
	b.MaxInterval = MaxBackoff
	b.RandomizationFactor = 0

	delay := time.Duration(0)
	for {
		if ctx.Err() != nil {
			return
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		err := c.connectAndRun(ctx)
		if ctx.Err() != nil {
			return
		}
		if c.onDisconnect != nil {
			c.onDisconnect(err)
		}
		log.Printf("wireclient[%s]: disconnected: %v", c.cfg.Name, err)

		next, nerr := b.NextBackOff()
		if nerr != nil {
			next = MaxBackoff
		}
		delay = next
	}
}

// connectAndRun resolves the upstream host, shuffles and prefers IPv4
// addresses, dials each in turn, and on success runs the read loop until
// it returns an error (connection lost, timeout, or ctx cancellation).
func (c *Client) connectAndRun(ctx context.Context) error {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, c.cfg.Server)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", c.cfg.Server, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("resolve %s: no addresses", c.cfg.Server)
	}

	ipv4 := make([]net.IPAddr, 0, len(addrs))
	ipv6 := make([]net.IPAddr, 0, len(addrs))
	for _, a := range addrs {
		if a.IP.To4() != nil {
			ipv4 = append(ipv4, a)
		} else {
			ipv6 = append(ipv6, a)
		}
	}
	rand.Shuffle(len(ipv4), func(i, j int) { ipv4[i], ipv4[j] = ipv4[j], ipv4[i] })
	rand.Shuffle(len(ipv6), func(i, j int) { ipv6[i], ipv6[j] = ipv6[j], ipv6[i] })
	ordered := append(ipv4, ipv6...)

	var lastErr error
	for _, a := range ordered {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		dialer := net.Dialer{Timeout: 10 * time.Second}
		addr := net.JoinHostPort(a.IP.String(), fmt.Sprintf("%d", c.cfg.Port))
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		if c.onConnect != nil {
			c.onConnect()
		}
		log.Printf("wireclient[%s]: connected to %s", c.cfg.Name, addr)
		return c.processConnection(ctx, conn)
	}
	return fmt.Errorf("all addresses failed, last error: %w", lastErr)
}

// processConnection is the core read loop: it reads available bytes,
// feeds them to the framer, wraps each resulting frame as an Envelope
// stamped with the current wall-clock time, and offers it to the sink.
func (c *Client) processConnection(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	buf := make([]byte, 8192)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
			return err
		}
		n, err := conn.Read(buf)
		if n > 0 {
			frames := c.framer.Feed(buf[:n])
			now := time.Now()
			for _, frame := range frames {
				env := envelope.Envelope{Source: c.cfg.Source, ReceiveTime: now, Payload: frame}
				if offerErr := c.sink.Offer(env); offerErr != nil {
					log.Printf("wireclient[%s]: sink offer failed: %v", c.cfg.Name, offerErr)
				}
			}
		}
		if err != nil {
			return err
		}
	}
}
