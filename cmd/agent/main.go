// Command agent runs the host-level traffic-observation pipeline: it
// decodes packets off a capture source, tracks them into flows, sniffs
// application-layer protocols over each flow's payload, aggregates and
// throttles finished flows, and syncs configuration from a controller
// over grpc. Grounded on rpc/synchronizer.rs's Trident::start wiring
// together Synchronizer, the collector pipeline and the platform
// capture threads as sibling tasks off one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cyh01/deepflow/aggregator"
	"github.com/cyh01/deepflow/config"
	"github.com/cyh01/deepflow/controller"
	"github.com/cyh01/deepflow/decoder/l7"
	"github.com/cyh01/deepflow/decoder/packet"
	"github.com/cyh01/deepflow/logging"
	"github.com/cyh01/deepflow/queue"
	"github.com/cyh01/deepflow/types"
	"github.com/cyh01/deepflow/utils"
)

var agentLog = logging.Named("agent")

type agentFlags struct {
	iface          string
	pcapFile       string
	controllerAddr string
	metricsAddr    string
	ctrlIP         string
	ctrlMac        string
	revision       string
	idleTimeout    time.Duration
	logLevel       string
}

func parseFlags() agentFlags {
	var f agentFlags

	flag.StringVar(&f.iface, "iface", "", "network interface to capture live traffic from")
	flag.StringVar(&f.pcapFile, "pcap", "", "pcap file to replay instead of live capture")
	flag.StringVar(&f.controllerAddr, "controller", "", "controller grpc address (host:port); sync loop disabled if empty")
	flag.StringVar(&f.metricsAddr, "metrics-addr", ":9091", "address to serve /metrics on")
	flag.StringVar(&f.ctrlIP, "ctrl-ip", "", "this agent's control-plane IP; auto-detected if empty")
	flag.StringVar(&f.ctrlMac, "ctrl-mac", "", "this agent's control-plane MAC; auto-detected if empty")
	flag.StringVar(&f.revision, "revision", "dev", "this agent build's version string, reported to the controller")
	flag.DurationVar(&f.idleTimeout, "idle-timeout", 90*time.Second, "how long an inactive flow waits before being flushed")
	flag.StringVar(&f.logLevel, "log-level", "info", "zap log level: debug, info, warn, error")

	flag.Parse()

	return f
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl := zap.NewAtomicLevel()

	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid -log-level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl

	return cfg.Build()
}

func resolveIdentity(f agentFlags) (controller.Identity, error) {
	ctrlIP := f.ctrlIP
	if ctrlIP == "" {
		ip, err := utils.FirstNonLoopbackIPv4()
		if err != nil {
			return controller.Identity{}, fmt.Errorf("auto-detect ctrl-ip: %w", err)
		}
		ctrlIP = ip.String()
	}

	ctrlMac := f.ctrlMac
	if ctrlMac == "" {
		ctrlMac = "00:00:00:00:00:00"
	}

	return controller.Identity{
		CtrlIP:   ctrlIP,
		CtrlMac:  ctrlMac,
		BootTime: uint32(time.Now().Unix()),
		Revision: f.revision,
	}, nil
}

func main() {
	f := parseFlags()

	logger, err := buildLogger(f.logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.SetLevel(logger)

	if f.iface == "" && f.pcapFile == "" {
		agentLog.Error("one of -iface or -pcap must be given")
		os.Exit(1)
	}

	identity, err := resolveIdentity(f)
	if err != nil {
		agentLog.Error("resolving agent identity", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		agentLog.Info("shutdown signal received")
		cancel()
	}()

	flowCh := queue.NewChan[*types.Flow](4096)
	senderCh := queue.NewChan[*types.Flow](4096)

	now := time.Now()
	throttle := aggregator.NewThrottlingQueue(senderCh, now)
	aggr := aggregator.NewFlowAggr(now, throttle)

	flowGen := packet.NewFlowGenerator(flowCh, f.idleTimeout)
	decoderInst := packet.NewDecoder()
	registry := l7.NewRegistry()
	sniffer := l7.NewSniffer(registry, config.Load().ConnTimeout)

	aggrDone := make(chan struct{})
	go func() {
		aggr.Run(flowCh, aggrDone)
	}()

	go drainSenderQueue(ctx, senderCh)

	var synchro *controller.Synchronizer
	if f.controllerAddr != "" {
		synchro = controller.NewSynchronizer(identity, nil)
		if err := synchro.Connect(f.controllerAddr); err != nil {
			agentLog.Warn("initial controller connect failed, will keep syncing in the background", zap.Error(err))
		}

		go synchro.Run(ctx)
	}

	go serveMetrics(f.metricsAddr)

	go runIdleSweeper(ctx, flowGen, sniffer)

	src, err := openCapture(f)
	if err != nil {
		agentLog.Error("opening capture source", zap.Error(err))
		os.Exit(1)
	}

	captureDone := make(chan error, 1)
	go func() {
		captureDone <- readLoop(src, func(data []byte, ts time.Time) {
			processPacket(decoderInst, flowGen, sniffer, data, ts)
		})
	}()

	select {
	case <-ctx.Done():
	case err := <-captureDone:
		if err != nil {
			agentLog.Warn("capture loop ended", zap.Error(err))
		}
		cancel()
	}

	src.Close()
	close(aggrDone)
	throttle.Flush()
	flowGen.Close()

	if synchro != nil {
		synchro.Close()
	}

	agentLog.Info("agent stopped")
}

// processPacket decodes one raw frame, folds it into its flow, and
// offers any application-layer payload to the sniffer. A merged L7
// record returned by the sniffer is discarded here.
func processPacket(d *packet.Decoder, flowGen *packet.FlowGenerator, sniffer *l7.Sniffer, data []byte, ts time.Time) {
	var mp packet.MetaPacket
	if err := d.Decode(data, ts, &mp); err != nil {
		return
	}

	flowID, _, ok := flowGen.Feed(&mp)
	if !ok {
		return
	}

	if payload := mp.Payload(); len(payload) > 0 {
		if info := sniffer.Feed(flowID, payload, mp.Direction, ts); info != nil {
			_ = info // merged L7 transaction; a real sender queue write belongs to the (external) platform-data sink.
		}
	}
}

func runIdleSweeper(ctx context.Context, flowGen *packet.FlowGenerator, sniffer *l7.Sniffer) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			flowGen.FlushIdle(now)
			sniffer.EvictStale(now)
		}
	}
}

// drainSenderQueue stands in for the (external) platform-data sender:
// in this agent, finalized flows are exported via their own Inc()
// prometheus counter, matching types/vrrpv2.go's per-record Inc()
// convention.
func drainSenderQueue(ctx context.Context, sink *queue.Chan[*types.Flow]) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f, ok := sink.Recv(time.Second)
		if !ok {
			continue
		}

		f.Inc()
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		agentLog.Warn("metrics server stopped", zap.Error(err))
	}
}

func openCapture(f agentFlags) (packetSource, error) {
	if f.pcapFile != "" {
		return openOfflineCapture(f.pcapFile)
	}

	return openLiveCapture(f.iface)
}
