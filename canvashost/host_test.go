package canvashost

import (
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	removed bool
	w, h    int16
}

func (n *fakeNode) Resize(w, h int16) { n.w, n.h = w, h }
func (n *fakeNode) Remove()           { n.removed = true }

func TestCreateCanvasAllocatesFresh(t *testing.T) {
	h := New(func(w, ht int16) DOMNode { return &fakeNode{w: w, h: ht} }, 0)
	id1, first1 := h.CreateCanvas(100, 100)
	id2, first2 := h.CreateCanvas(200, 200)
	require.True(t, first1, "fresh allocations should report firstTransfer=true")
	require.True(t, first2, "fresh allocations should report firstTransfer=true")
	require.NotEqual(t, id1, id2, "expected distinct context ids")
	require.Equal(t, 2, h.Live())
}

func TestStaleResetThenCreateRevives(t *testing.T) {
	h := New(func(w, ht int16) DOMNode { return &fakeNode{w: w, h: ht} }, time.Hour)
	ctxID, _ := h.CreateCanvas(50, 50)
	h.StaleReset()

	revivedID, firstTransfer := h.CreateCanvas(60, 60)
	require.Equal(t, ctxID, revivedID, "CreateCanvas after StaleReset should revive the stale entry")
	require.False(t, firstTransfer, "reviving a stale entry must not report firstTransfer")
	require.Equal(t, 1, h.Live(), "revived, not duplicated")
}

func TestRemoveCanvasDropsNodeImmediately(t *testing.T) {
	var node *fakeNode
	h := New(func(w, ht int16) DOMNode {
		node = &fakeNode{w: w, h: ht}
		return node
	}, 0)
	ctxID, _ := h.CreateCanvas(10, 10)
	h.RemoveCanvas(ctxID)
	require.True(t, node.removed, "expected node.Remove() to have been called")
	require.Equal(t, 0, h.Live())
}

func TestControlChannelRoundTrip(t *testing.T) {
	hostConn, workerConn := net.Pipe()

	hostDone := make(chan error, 1)
	var hostCh *Channel
	go func() {
		var err error
		hostCh, err = DialHost(hostConn)
		hostDone <- err
	}()

	workerCh, err := AcceptWorker(workerConn)
	require.NoError(t, err)
	require.NoError(t, <-hostDone)
	defer hostCh.Close()
	defer workerCh.Close()

	want := Envelope{Type: MsgRequestCanvas, To: "host", GlobalID: 42, Width: 320, Height: 240}

	sendDone := make(chan error, 1)
	go func() { sendDone <- hostCh.Send(want) }()

	got, err := workerCh.Recv()
	require.NoError(t, err)
	require.NoError(t, <-sendDone)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("envelope round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSetThemeWithoutBoundChannelReturnsError(t *testing.T) {
	h := New(func(w, ht int16) DOMNode { return &fakeNode{w: w, h: ht} }, 0)
	err := h.SetTheme("red", "#f00")
	require.Error(t, err, "SetTheme before BindChannel should fail rather than silently drop the update")
}

func TestSetThemeForwardsEnvelopeOverBoundChannel(t *testing.T) {
	hostConn, workerConn := net.Pipe()

	hostDone := make(chan error, 1)
	var hostCh *Channel
	go func() {
		var err error
		hostCh, err = DialHost(hostConn)
		hostDone <- err
	}()
	workerCh, err := AcceptWorker(workerConn)
	require.NoError(t, err)
	require.NoError(t, <-hostDone)
	defer hostCh.Close()
	defer workerCh.Close()

	h := New(func(w, ht int16) DOMNode { return &fakeNode{w: w, h: ht} }, 0)
	h.BindChannel(hostCh)

	sendDone := make(chan error, 1)
	go func() { sendDone <- h.SetTheme("red", "#ff0000") }()

	got, err := workerCh.Recv()
	require.NoError(t, err)
	require.NoError(t, <-sendDone)

	require.Equal(t, MsgTheme, got.Type)
	require.Equal(t, "red", got.ThemeName)
	require.Equal(t, "#ff0000", got.ThemeColor)

	require.Equal(t, map[string]string{"red": "#ff0000"}, h.CurrentTheme())
}
