package canvashost

import (
	"encoding/gob"
	"io"
	"net"

	"github.com/pkg/errors"
	"github.com/xtaci/smux"
)

// MessageType enumerates the host<->worker control messages from
// spec.md §4.6, each tagged by type rather than by a dedicated wire
// opcode — control traffic is out-of-band from the bip-stream event
// protocol and low-volume enough that gob's reflection cost doesn't
// matter.
type MessageType string

const (
	MsgConnection    MessageType = "Connection"
	MsgTheme         MessageType = "Theme"
	MsgRequestCanvas MessageType = "RequestCanvas"
	MsgReceiveCanvas MessageType = "ReceiveCanvas"
	MsgResizeCanvas  MessageType = "ResizeCanvas"
	MsgRemoveCanvas  MessageType = "RemoveCanvas"
	MsgError         MessageType = "Error"
)

// Envelope is the gob-encoded frame carried over one smux stream.
// Only the fields relevant to Type are populated, the same
// discriminated-struct shape canvasproto.Event uses for the binary
// wire format.
type Envelope struct {
	Type MessageType
	To   string // "host" | "worker"

	GlobalID  uint64
	ContextID uint64
	Width     int16
	Height    int16
	Offscreen bool

	// ThemeName/ThemeColor carry one color-name to replacement-color
	// mapping entry for a MsgTheme message (the console's
	// "theme <name> <color>" command forwards exactly one entry per
	// invocation). ThemeMap carries the host's full accumulated
	// mapping on a Connection message, per spec.md §4.6 ("send an
	// initial Connection message carrying the shared region and
	// current theme").
	ThemeName  string
	ThemeColor string
	ThemeMap   map[string]string

	// RegionPath/RegionCapacity carry the file-backed shared-memory
	// region a MsgConnection envelope hands to the worker, per
	// spec.md §4.6 ("send an initial Connection message carrying the
	// shared region and current theme"). RegionPath is empty when no
	// shared region accompanies the message (e.g. MsgTheme).
	RegionPath     string
	RegionCapacity int

	ErrMessage string
	ErrType    string
	ErrStack   string
	ErrFatal   bool
}

// Channel is a bidirectional control connection multiplexed over a
// single smux session, grounded directly on xtaci-kcptun's
// smux.Client/smux.Server wiring (there dialed over a kcp.UDPSession;
// here dialed over any net.Conn — typically a net.Pipe for an
// in-process worker, or a real socket for an out-of-process one).
type Channel struct {
	session *smux.Session
	stream  *smux.Stream
	enc     *gob.Encoder
	dec     *gob.Decoder
}

// DialHost opens the host side of the control channel: a smux client
// session over conn, with one stream opened immediately for the
// lifetime of the connection.
func DialHost(conn net.Conn) (*Channel, error) {
	sess, err := smux.Client(conn, smux.DefaultConfig())
	if err != nil {
		return nil, errors.Wrap(err, "canvashost: smux client session")
	}
	stream, err := sess.OpenStream()
	if err != nil {
		sess.Close()
		return nil, errors.Wrap(err, "canvashost: open control stream")
	}
	return newChannel(sess, stream), nil
}

// AcceptWorker accepts the worker side of the control channel: a smux
// server session over conn, waiting for the host's single stream.
func AcceptWorker(conn net.Conn) (*Channel, error) {
	sess, err := smux.Server(conn, smux.DefaultConfig())
	if err != nil {
		return nil, errors.Wrap(err, "canvashost: smux server session")
	}
	stream, err := sess.AcceptStream()
	if err != nil {
		sess.Close()
		return nil, errors.Wrap(err, "canvashost: accept control stream")
	}
	return newChannel(sess, stream), nil
}

func newChannel(sess *smux.Session, stream *smux.Stream) *Channel {
	return &Channel{
		session: sess,
		stream:  stream,
		enc:     gob.NewEncoder(stream),
		dec:     gob.NewDecoder(stream),
	}
}

// Send gob-encodes and writes env to the stream.
func (c *Channel) Send(env Envelope) error {
	if err := c.enc.Encode(env); err != nil {
		return errors.Wrap(err, "canvashost: encode control envelope")
	}
	return nil
}

// Recv blocks for the next envelope. io.EOF propagates unwrapped so
// callers can treat stream closure as a clean shutdown signal, the
// same distinction the canvas event loop makes for stream timeouts.
func (c *Channel) Recv() (Envelope, error) {
	var env Envelope
	if err := c.dec.Decode(&env); err != nil {
		if errors.Is(err, io.EOF) {
			return Envelope{}, io.EOF
		}
		return Envelope{}, errors.Wrap(err, "canvashost: decode control envelope")
	}
	return env, nil
}

// Close tears down the stream and its owning session.
func (c *Channel) Close() error {
	c.stream.Close()
	return c.session.Close()
}

func init() {
	gob.Register(Envelope{})
}
