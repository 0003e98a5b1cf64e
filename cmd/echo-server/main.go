// Command echo-server runs a reliudp engine bound to a UDP socket and
// echoes every Data payload back to its sender.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"reliudp/engine"
	"reliudp/pkg/logger"
	"reliudp/pkg/metrics"
	"reliudp/transport"
)

func main() {
	listen := flag.StringP("listen", "l", "0.0.0.0:7777", "UDP address to bind")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090 (disabled if empty)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	tickInterval := flag.Duration("tick-interval", 50*time.Millisecond, "engine maintenance tick period")
	flag.Parse()

	log := logger.New(*logLevel)

	endpoint, err := transport.NewUDPEndpoint(*listen)
	if err != nil {
		log.Fatalf("binding %s: %v", *listen, err)
	}
	defer endpoint.Close()

	pool := engine.NewBufferPool()
	pool.Warmup(64)

	eng := engine.New(endpoint, pool, engine.WithLogger(log))
	log.Infof("echo server listening on %s", endpoint.LocalAddr())

	var metricsReg *metrics.Registry
	if *metricsAddr != "" {
		metricsReg = metrics.NewRegistry()
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metricsReg.Handler())
			log.Infof("serving metrics on %s/metrics", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warnf("metrics server stopped: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(*tickInterval)
	defer ticker.Stop()

	running := true
	for running {
		select {
		case sig := <-sigChan:
			log.Infof("received signal %v, shutting down", sig)
			running = false
			continue
		case <-ticker.C:
			eng.Tick()
			if metricsReg != nil {
				metricsReg.ObservePool(eng.BufferPoolStats())
				for _, peer := range eng.Peers() {
					if stats, ok := eng.Stats(peer); ok {
						metricsReg.ObservePeer(peer.String(), stats, eng.ConnectionStatus(peer))
					}
				}
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
		if result.Buffer == nil {
			continue
		}

		payload := result.Buffer.Payload()
		log.Debugf("echoing %d bytes from %s", len(payload), result.From)

		reply := eng.AcquireBuffer()
		copy(reply.PayloadMut(), payload)
		_ = reply.SetPayloadLen(len(payload))
		result.Buffer.Release()

		if err := eng.Submit(reply, result.From); err != nil {
			log.Warnf("echoing to %s failed: %v", result.From, err)
		}
	}

	if err := eng.Close(); err != nil {
		log.Warnf("closing peers: %v", err)
	}
	log.Infof("echo server stopped")
}
