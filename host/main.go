// Command host runs the host/UI-side demo: it listens on a unix
// socket for a compute-side worker, walks it through the Connection
// handshake, allocates canvases on request, and forwards lifecycle
// control messages. Flags and startup shape mirror
// xtaci-kcptun/server/main.go's cli.App wiring.
package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/fiddlecore/wasmcore/bipstream"
	"github.com/fiddlecore/wasmcore/canvashost"
	"github.com/fiddlecore/wasmcore/config"
	"github.com/fiddlecore/wasmcore/metrics"
)

func main() {
	app := cli.NewApp()
	app.Name = "wasmcore-host"
	app.Usage = "host-side canvas allocator and control-channel listener"
	app.Flags = append(config.Flags(),
		cli.StringFlag{
			Name:  "control-socket",
			Value: "/tmp/wasmcore-control.sock",
			Usage: "unix socket to listen on for the compute worker",
		},
		cli.DurationFlag{
			Name:  "stale-ttl",
			Value: 30 * time.Second,
			Usage: "how long a reset canvas stays revivable before its node is torn down",
		},
		cli.BoolFlag{
			Name:  "console",
			Usage: "run the interactive debug console after a worker connects",
		},
	)
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal(color.RedString("host: %v", err))
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromCLI(c)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		defer f.Close()
		log.SetOutput(f)
	}
	if cfg.MetricsCSV != "" {
		go metrics.CSVLogger(cfg.MetricsCSV, time.Duration(cfg.MetricsPeriodS)*time.Second)
	}

	socketPath := c.String("control-socket")
	os.Remove(socketPath) // stale socket from a previous run

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return errors.Wrap(err, "listen on control socket")
	}
	defer listener.Close()
	log.Println("host: listening on", socketPath)

	host := canvashost.New(func(w, h int16) canvashost.DOMNode {
		return &loggingNode{w: w, h: h}
	}, c.Duration("stale-ttl"))

	conn, err := listener.Accept()
	if err != nil {
		return errors.Wrap(err, "accept worker connection")
	}
	defer conn.Close()
	log.Println("host: worker connected from", conn.RemoteAddr())

	ctl, err := canvashost.DialHost(conn)
	if err != nil {
		return errors.Wrap(err, "establish control channel")
	}
	defer ctl.Close()
	host.BindChannel(ctl)

	regionPath := filepath.Join(os.TempDir(), fmt.Sprintf("wasmcore-events-%d.bip", os.Getpid()))
	region, err := bipstream.NewMmapRegion(regionPath, cfg.RingCapacity)
	if err != nil {
		return errors.Wrap(err, "allocate shared event-stream region")
	}
	eventStream := bipstream.New(region)
	defer eventStream.Close()
	defer os.Remove(regionPath)

	if err := ctl.Send(canvashost.Envelope{
		Type:           canvashost.MsgConnection,
		To:             "worker",
		RegionPath:     regionPath,
		RegionCapacity: cfg.RingCapacity,
		ThemeMap:       host.CurrentTheme(),
	}); err != nil {
		return errors.Wrap(err, "send Connection envelope")
	}

	if c.Bool("console") {
		console := canvashost.NewConsole(host, "")
		if err := console.Run(); err != nil {
			log.Println("host: console exited:", err)
		}
		return nil
	}

	return controlLoop(host, ctl)
}

// controlLoop services RequestCanvas-style lifecycle requests arriving
// from the worker over the control channel until it disconnects.
func controlLoop(host *canvashost.Host, ctl *canvashost.Channel) error {
	for {
		env, err := ctl.Recv()
		if err != nil {
			log.Println("host: control channel closed:", err)
			return nil
		}
		switch env.Type {
		case canvashost.MsgRequestCanvas:
			ctxID, firstTransfer := host.CreateCanvas(env.Width, env.Height)
			reply := canvashost.Envelope{
				Type:      canvashost.MsgReceiveCanvas,
				To:        "worker",
				ContextID: ctxID,
				Width:     env.Width,
				Height:    env.Height,
				Offscreen: firstTransfer,
			}
			if firstTransfer {
				host.MarkTransferred(ctxID)
			}
			if err := ctl.Send(reply); err != nil {
				log.Println("host: failed to reply to RequestCanvas:", err)
			}
		case canvashost.MsgResizeCanvas:
			host.Resize(env.ContextID, env.Width, env.Height)
		case canvashost.MsgRemoveCanvas:
			host.RemoveCanvas(env.ContextID)
		case canvashost.MsgError:
			log.Println("host: worker reported error:", env.ErrMessage)
		default:
			log.Println("host: unexpected control message", env.Type)
		}
	}
}

// loggingNode is the demo's DOMNode: a stand-in for a real <canvas>
// element, since this binary runs outside a browser/wasm host.
type loggingNode struct {
	w, h int16
}

func (n *loggingNode) Resize(w, h int16) {
	log.Printf("host: canvas resized to %dx%d", w, h)
	n.w, n.h = w, h
}

func (n *loggingNode) Remove() {
	log.Println("host: canvas removed")
}
