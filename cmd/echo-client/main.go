// Command echo-client sends periodic Data payloads to an echo-server and
// reports round-trip statistics.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"reliudp/engine"
	"reliudp/pkg/logger"
	"reliudp/transport"
)

func main() {
	remote := flag.StringP("remote", "r", "127.0.0.1:7777", "server address to connect to")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	sendInterval := flag.Duration("send-interval", time.Second, "how often to send a payload")
	tickInterval := flag.Duration("tick-interval", 50*time.Millisecond, "engine maintenance tick period")
	flag.Parse()

	log := logger.New(*logLevel)

	peerAddr, err := net.ResolveUDPAddr("udp", *remote)
	if err != nil {
		log.Fatalf("resolving %s: %v", *remote, err)
	}

	endpoint, err := transport.NewUDPEndpoint(":0")
	if err != nil {
		log.Fatalf("binding local socket: %v", err)
	}
	defer endpoint.Close()

	pool := engine.NewBufferPool()
	eng := engine.New(endpoint, pool, engine.WithLogger(log))
	log.Infof("echo client dialing %s from %s", peerAddr, endpoint.LocalAddr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sendTicker := time.NewTicker(*sendInterval)
	defer sendTicker.Stop()
	maintTicker := time.NewTicker(*tickInterval)
	defer maintTicker.Stop()

	var sent int
	running := true
	for running {
		select {
		case sig := <-sigChan:
			log.Infof("received signal %v, shutting down", sig)
			running = false
			continue
		case <-maintTicker.C:
			eng.Tick()
		case <-sendTicker.C:
			buf := eng.AcquireBuffer()
			payload := []byte(fmt.Sprintf("ping #%d", sent))
			copy(buf.PayloadMut(), payload)
			_ = buf.SetPayloadLen(len(payload))
			if err := eng.Submit(buf, peerAddr); err != nil {
				log.Warnf("send failed: %v", err)
			} else {
				sent++
			}
			if stats, ok := eng.Stats(peerAddr); ok {
				log.Infof("sent=%d recv=%d lost=%d rtx=%d avg_rtt=%s status=%s",
					stats.PacketsSent, stats.PacketsReceived, stats.PacketsLost,
					stats.Retransmissions, stats.AvgRTT, eng.ConnectionStatus(peerAddr))
			}
		default:
		}

		result, ok := eng.Poll()
		if !ok {
			continue
		}
		if result.Err != nil {
			log.Warnf("poll error: %v", result.Err)
			continue
		}
		if result.Buffer != nil {
			log.Debugf("echo reply from %s: %q", result.From, string(result.Buffer.Payload()))
			result.Buffer.Release()
		}
	}

	if err := eng.Close(); err != nil {
		log.Warnf("closing peers: %v", err)
	}
	log.Infof("echo client stopped")
}
