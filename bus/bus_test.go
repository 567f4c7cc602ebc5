package bus

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/joselara-terraform/xc2ctl/xc2"
)

func testBus(t *testing.T) (*Bus, *fakeEndpoint) {
	t.Helper()
	ep := newFakeEndpoint()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	b := New("test", ep, XC2Codec, logrus.NewEntry(log), nil)
	return b, ep
}

// S3 — Partial read. The device delivers the first 5 bytes immediately
// and the rest after a short delay; a receive with a long enough budget
// must wait it out and return the packet, while one with too short a
// budget must time out.
func TestReceivePktPartialRead(t *testing.T) {
	full := xc2.Encode(xc2.Packet{Type: xc2.Command, Dst: 0x123, Src: 0x001, Cmd: 0x01})

	t.Run("short timeout times out", func(t *testing.T) {
		b, ep := testBus(t)
		ep.feed(full[:5])
		_, err := b.ReceivePkt(200 * time.Millisecond)
		require.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("long enough timeout waits for the rest", func(t *testing.T) {
		b, ep := testBus(t)
		ep.feed(full[:5])
		go func() {
			time.Sleep(50 * time.Millisecond)
			ep.feed(full[5:])
		}()
		p, err := b.ReceivePkt(2 * time.Second)
		require.NoError(t, err)
		require.Equal(t, byte(0x01), p.Cmd)
		require.EqualValues(t, 0x123, p.Dst)
	})
}

// S2 — Broadcast echo collection.
func TestBroadcastCollection(t *testing.T) {
	b, ep := testBus(t)
	req := xc2.Packet{Type: xc2.Command, Dst: xc2.Broadcast, Src: 0x001, Cmd: 0x01}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, src := range []xc2.Addr{0x002, 0x003, 0x004} {
			reply := xc2.Packet{Type: xc2.Ack, Dst: 0x001, Src: src, Cmd: 0x01, Data: []byte{0x01}}
			ep.feed(xc2.Encode(reply))
			time.Sleep(5 * time.Millisecond)
		}
	}()

	replies, err := b.Broadcast(req, 150*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, replies, 3)
	require.EqualValues(t, 0x002, replies[0].Src)
	require.EqualValues(t, 0x003, replies[1].Src)
	require.EqualValues(t, 0x004, replies[2].Src)
	<-done
}

func TestBroadcastEmptyIsTimeout(t *testing.T) {
	b, _ := testBus(t)
	req := xc2.Packet{Type: xc2.Command, Dst: xc2.Broadcast, Src: 0x001, Cmd: 0x01}
	_, err := b.Broadcast(req, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

// Property 11 — event demultiplexing.
func TestRequestResponseQueuesEvent(t *testing.T) {
	b, ep := testBus(t)
	req := xc2.Packet{Type: xc2.Command, Dst: 0x123, Src: 0x001, Cmd: 0x01}

	event := xc2.Packet{Type: xc2.Event, Dst: 0x001, Src: 0x999, Cmd: 0x55, Data: []byte{0xAA}}
	reply := xc2.Packet{Type: xc2.Ack, Dst: 0x001, Src: 0x123, Cmd: 0x01}

	go func() {
		ep.feed(xc2.Encode(event))
		time.Sleep(5 * time.Millisecond)
		ep.feed(xc2.Encode(reply))
	}()

	got, err := b.RequestResponse(req, time.Second)
	require.NoError(t, err)
	require.Equal(t, reply.Cmd, got.Cmd)
	require.Equal(t, reply.Src, got.Src)

	queued, ok := b.ReadEvent(50 * time.Millisecond)
	require.True(t, ok)
	require.Equal(t, event.Cmd, queued.Cmd)
	require.Equal(t, event.Src, queued.Src)

	_, ok = b.ReadEvent(20 * time.Millisecond)
	require.False(t, ok)
}

func TestRequestResponseRejectsBroadcast(t *testing.T) {
	b, _ := testBus(t)
	req := xc2.Packet{Type: xc2.Command, Dst: xc2.Broadcast, Src: 0x001, Cmd: 0x01}
	_, err := b.RequestResponse(req, time.Second)
	require.ErrorIs(t, err, ErrGeneralError)
}

func TestRequestResponseUnexpectedAnswer(t *testing.T) {
	b, ep := testBus(t)
	req := xc2.Packet{Type: xc2.Command, Dst: 0x123, Src: 0x001, Cmd: 0x01}

	wrongCmd := xc2.Packet{Type: xc2.Ack, Dst: 0x001, Src: 0x123, Cmd: 0x02}
	ep.feed(xc2.Encode(wrongCmd))

	_, err := b.RequestResponse(req, time.Second)
	require.ErrorIs(t, err, ErrUnexpectedAnswer)
}

func TestRequestResponseFirstNakReturnedVerbatim(t *testing.T) {
	b, ep := testBus(t)
	req := xc2.Packet{Type: xc2.Command, Dst: 0x123, Src: 0x001, Cmd: 0x01}
	nak := xc2.Packet{Type: xc2.Nak, Dst: 0x001, Src: 0x123, Cmd: 0x7F}
	ep.feed(xc2.Encode(nak))

	got, err := b.RequestResponse(req, time.Second)
	require.NoError(t, err)
	require.Equal(t, xc2.Nak, got.Type)
}
