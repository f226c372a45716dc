// Command compute runs the worker/compute-side demo: it dials the
// host over a unix socket, negotiates a shared bip-stream region for
// the canvas event stream over the control channel, then decodes
// canvas events off that stream with canvasproto/codec and applies
// them to a canvasengine.Engine until the host disconnects or the
// read strategy times out. Flags and startup shape mirror
// xtaci-kcptun/client/main.go's cli.App wiring.
package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/fiddlecore/wasmcore/bipstream"
	"github.com/fiddlecore/wasmcore/canvasengine"
	"github.com/fiddlecore/wasmcore/canvashost"
	"github.com/fiddlecore/wasmcore/canvasproto"
	"github.com/fiddlecore/wasmcore/codec"
	"github.com/fiddlecore/wasmcore/config"
	"github.com/fiddlecore/wasmcore/lockstrategy"
	"github.com/fiddlecore/wasmcore/metrics"
	"github.com/fiddlecore/wasmcore/wasmerr"
)

func main() {
	app := cli.NewApp()
	app.Name = "wasmcore-compute"
	app.Usage = "worker-side canvas event loop"
	app.Flags = append(config.Flags(), cli.StringFlag{
		Name:  "control-socket",
		Value: "/tmp/wasmcore-control.sock",
		Usage: "unix socket the host listens on for the control channel",
	})
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal(color.RedString("compute: %v", err))
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

	conn, err := net.Dial("unix", c.String("control-socket"))
	if err != nil {
		return errors.Wrap(err, "dial control socket")
	}
	defer conn.Close()

	ctl, err := canvashost.AcceptWorker(conn)
	if err != nil {
		return errors.Wrap(err, "establish control channel")
	}
	defer ctl.Close()

	log.Println("compute: waiting for host connection")
	env, err := ctl.Recv()
	if err != nil {
		return errors.Wrap(err, "receive Connection envelope")
	}
	if env.Type != canvashost.MsgConnection {
		return fmt.Errorf("compute: expected Connection, got %s", env.Type)
	}

	var stream *bipstream.Stream
	if env.RegionPath != "" {
		region, err := bipstream.NewMmapRegion(env.RegionPath, 0)
		if err != nil {
			return errors.Wrap(err, "attach shared event-stream region")
		}
		// The host already called New on this region to initialize its
		// indices; Attach must not re-zero them.
		stream = bipstream.Attach(region)
	} else {
		log.Println("compute: Connection carried no shared region, falling back to a private heap region")
		region, err := bipstream.NewHeapRegion(cfg.RingCapacity)
		if err != nil {
			return errors.Wrap(err, "allocate event-stream region")
		}
		stream = bipstream.New(region)
	}
	defer stream.Close()

	engine := canvasengine.New(func(w, h int16) canvasengine.Surface {
		return &nullSurface{}
	})
	theme := make(map[string]string, len(env.ThemeMap))
	for k, v := range env.ThemeMap {
		theme[k] = v
	}
	if len(theme) > 0 {
		engine.ThemeChange(theme)
	}

	reader := codec.NewReader(stream, strategyFromConfig(cfg))

	done := make(chan error, 1)
	go func() { done <- decodeLoop(engine, reader) }()

	if err := controlLoop(engine, ctl, theme); err != nil {
		return err
	}
	return <-done
}

func strategyFromConfig(cfg config.Config) lockstrategy.Strategy {
	switch cfg.LockStrategy {
	case "busy":
		return lockstrategy.Busy{}
	case "deadline":
		return lockstrategy.NewDeadline(64, cfg.BackoffMinMS, cfg.BackoffMaxMS, cfg.TimeoutMS)
	default:
		return lockstrategy.NewBackoff(64, cfg.BackoffMinMS, cfg.BackoffMaxMS)
	}
}

// decodeLoop unpacks canvas events off the event stream and dispatches
// each to the engine until the stream closes (a ConnectionClosed
// event) or the read strategy times out — a timeout ends the loop
// cleanly rather than as a reported failure, since an idle canvas
// legitimately produces no events for an extended period.
func decodeLoop(engine *canvasengine.Engine, reader *codec.Reader) error {
	for {
		ev, err := canvasproto.Unpack(reader)
		if err != nil {
			if errors.Is(err, wasmerr.ErrTimeout) {
				log.Println("compute: event stream idle past deadline, exiting")
				return nil
			}
			return errors.Wrap(err, "decode canvas event")
		}
		if ev.Type == canvasproto.OpConnectionClosed {
			log.Println("compute: event stream closed, exiting")
			return nil
		}
		if err := engine.Dispatch(canvasengine.GlobalID(ev.CanvasID), ev); err != nil {
			log.Println("compute: dispatch failed:", err)
		}
	}
}

// controlLoop handles out-of-band control messages (canvas creation,
// theme updates, host-reported errors) until the host closes the
// connection; any other message type is logged and ignored. theme
// is the engine's accumulated color mapping, seeded from the
// Connection envelope and updated one entry at a time by subsequent
// Theme messages.
func controlLoop(engine *canvasengine.Engine, ctl *canvashost.Channel, theme map[string]string) error {
	for {
		env, err := ctl.Recv()
		if err != nil {
			log.Println("compute: control channel closed, exiting cleanly:", err)
			return nil
		}
		switch env.Type {
		case canvashost.MsgRequestCanvas:
			id := canvasengine.GlobalID(env.GlobalID)
			if _, err := engine.Create(id, env.Width, env.Height, env.ContextID); err != nil {
				sendError(ctl, err, false)
			}
		case canvashost.MsgTheme:
			theme[env.ThemeName] = env.ThemeColor
			engine.ThemeChange(theme)
		case canvashost.MsgError:
			if env.ErrFatal {
				return errors.New(env.ErrMessage)
			}
			log.Println("compute: host reported error:", env.ErrMessage)
		default:
			log.Println("compute: unexpected control message", env.Type)
		}
	}
}

func sendError(ctl *canvashost.Channel, err error, fatal bool) {
	sendErr := ctl.Send(canvashost.Envelope{
		Type:       canvashost.MsgError,
		To:         "host",
		ErrMessage: err.Error(),
		ErrFatal:   fatal,
	})
	if sendErr != nil {
		log.Println("compute: failed to report error upstream:", sendErr)
	}
}

// nullSurface discards every draw call; a real wasm build binds
// Surface to syscall/js canvas context calls instead.
type nullSurface struct{}

func (nullSurface) Apply(canvasproto.Event) {}
func (nullSurface) Clear()                  {}
