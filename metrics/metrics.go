// Package metrics exposes the bip-stream/codec counters (C8, added
// beyond the distilled spec) that the codec package updates, plus a
// periodic CSV snapshot writer grounded on
// xtaci-kcptun/std/snmp.go's SnmpLogger (ticker-driven, header-on-
// empty-file, one row per interval).
package metrics

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// BytesWritten and BytesRead track bipstream throughput across every
// live Stream in the process; codec writers/readers call Add after
// each successful Commit/Consume cycle.
var (
	BytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wasmcore_bipstream_bytes_written_total",
		Help: "Total bytes committed across all bip-stream producers.",
	})
	BytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wasmcore_bipstream_bytes_read_total",
		Help: "Total bytes consumed across all bip-stream consumers.",
	})
	CodecTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wasmcore_codec_timeouts_total",
		Help: "Total number of codec reads/writes that ended in a lock-strategy timeout.",
	})
	ReservationSpins = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wasmcore_bipstream_reservation_spins_total",
		Help: "Total number of times Reserve()/Valid() observed no room and had to retry.",
	})
)

func init() {
	prometheus.MustRegister(BytesWritten, BytesRead, CodecTimeouts, ReservationSpins)
}

// row is the snapshot line for one tick; field order must match
// header().
type row struct {
	bytesWritten     float64
	bytesRead        float64
	codecTimeouts    float64
	reservationSpins float64
}

func header() []string {
	return []string{"BytesWritten", "BytesRead", "CodecTimeouts", "ReservationSpins"}
}

func (r row) toSlice() []string {
	return []string{
		fmt.Sprint(r.bytesWritten),
		fmt.Sprint(r.bytesRead),
		fmt.Sprint(r.codecTimeouts),
		fmt.Sprint(r.reservationSpins),
	}
}

func snapshot() row {
	return row{
		bytesWritten:     counterValue(BytesWritten),
		bytesRead:        counterValue(BytesRead),
		codecTimeouts:    counterValue(CodecTimeouts),
		reservationSpins: counterValue(ReservationSpins),
	}
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	if m.Counter == nil {
		return 0
	}
	return m.Counter.GetValue()
}

// CSVLogger periodically appends one row of the counters above to
// path, exactly the way SnmpLogger appends kcp.DefaultSnmp's fields:
// the filename itself is passed through time.Now().Format so callers
// can roll logs by embedding a layout like "metrics-20060102.csv".
// interval <= 0 disables the logger (a no-op loop return), matching
// SnmpLogger's own path=="" / interval==0 guard.
func CSVLogger(path string, interval time.Duration) {
	if path == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		logdir, logfile := filepath.Split(path)
		f, err := os.OpenFile(filepath.Join(logdir, time.Now().Format(logfile)), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			log.Println("metrics: open snapshot file:", err)
			return
		}
		w := csv.NewWriter(f)
		if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
			if err := w.Write(append([]string{"Unix"}, header()...)); err != nil {
				log.Println("metrics: write header:", err)
			}
		}
		row := snapshot()
		if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, row.toSlice()...)); err != nil {
			log.Println("metrics: write row:", err)
		}
		w.Flush()
		f.Close()
	}
}
