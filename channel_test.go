package fbchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_SynchronousAck(t *testing.T) {
	ch := NewChannel()
	var got []byte
	var consumed []int
	ch.SetDataCallback(func(ch *Channel, buf Buffer, errcode int) {
		require.Zero(t, errcode)
		got = append(got, buf.Bytes()...)
		ch.Consumed(buf.Len(), false)
	})
	ch.SetConsumedCallback(func(_ *Channel, n int) {
		consumed = append(consumed, n)
	})

	require.True(t, ch.AcceptingInput())
	ch.Feed(StringBuffer("hello"))
	assert.Equal(t, "hello", string(got))
	assert.Equal(t, []int{5}, consumed)
	assert.Equal(t, ChannelIdle, ch.State())
	assert.True(t, ch.AcceptingInput())
	assert.False(t, ch.Ended())
}

func TestChannel_AsynchronousAck(t *testing.T) {
	ch := NewChannel()
	var notified int
	ch.SetDataCallback(func(*Channel, Buffer, int) {})
	ch.SetConsumedCallback(func(_ *Channel, n int) { notified++ })

	ch.Feed(StringBuffer("abc"))
	assert.Equal(t, ChannelCalling, ch.State())
	assert.False(t, ch.AcceptingInput())
	assert.True(t, ch.MayAcceptInputLater())
	assert.Zero(t, notified)

	ch.Consumed(3, false)
	assert.Equal(t, ChannelIdle, ch.State())
	assert.Equal(t, 1, notified)
}

func TestChannel_EOSSyncAck(t *testing.T) {
	ch := NewChannel()
	var sawEOS bool
	ch.SetDataCallback(func(ch *Channel, buf Buffer, errcode int) {
		require.True(t, buf.IsEmpty())
		sawEOS = true
		assert.Equal(t, ChannelCalling, ch.State())
		ch.Consumed(0, true)
		assert.Equal(t, ChannelCallingWithEOFAck, ch.State())
	})
	ch.Feed(EOSBuffer())
	require.True(t, sawEOS)
	assert.Equal(t, ChannelEOFAcked, ch.State())
	assert.True(t, ch.Ended())
	assert.True(t, ch.EndAcked())
	assert.False(t, ch.MayAcceptInputLater())
}

func TestChannel_EOSLateAck(t *testing.T) {
	ch := NewChannel()
	ch.SetDataCallback(func(*Channel, Buffer, int) {})
	ch.Feed(EOSBuffer())
	assert.Equal(t, ChannelEOFReached, ch.State())
	assert.True(t, ch.Ended())
	assert.False(t, ch.EndAcked())

	ch.Consumed(0, true)
	assert.Equal(t, ChannelEOFAcked, ch.State())
	assert.True(t, ch.EndAcked())
}

func TestChannel_EndAckOnDataRefusesFurtherInput(t *testing.T) {
	ch := NewChannel()
	ch.SetDataCallback(func(ch *Channel, buf Buffer, errcode int) {
		ch.Consumed(buf.Len(), true)
	})
	ch.Feed(StringBuffer("last"))
	assert.Equal(t, ChannelEOFAcked, ch.State())
	assert.True(t, ch.Ended())
	assert.False(t, ch.AcceptingInput())
	assert.False(t, ch.MayAcceptInputLater())
}

func TestChannel_PartialAckRedelivers(t *testing.T) {
	ch := NewChannel()
	var chunks []string
	ch.SetDataCallback(func(_ *Channel, buf Buffer, _ int) {
		chunks = append(chunks, string(buf.Bytes()))
	})

	ch.Feed(StringBuffer("abcdef"))
	require.Equal(t, []string{"abcdef"}, chunks)

	// Partial acknowledgement redelivers the remainder.
	ch.Consumed(2, false)
	require.Equal(t, []string{"abcdef", "cdef"}, chunks)
	assert.Equal(t, ChannelCalling, ch.State())

	ch.Consumed(4, false)
	assert.Equal(t, ChannelIdle, ch.State())
}

func TestChannel_PartialAckInsideCallback(t *testing.T) {
	ch := NewChannel()
	var chunks []string
	ch.SetDataCallback(func(ch *Channel, buf Buffer, _ int) {
		chunks = append(chunks, string(buf.Bytes()))
		ch.Consumed(1, false)
	})
	ch.Feed(StringBuffer("abc"))
	assert.Equal(t, []string{"abc", "bc", "c"}, chunks)
	assert.Equal(t, ChannelIdle, ch.State())
}

func TestChannel_FeedError(t *testing.T) {
	ch := NewChannel()
	var gotErr int
	ch.SetDataCallback(func(ch *Channel, buf Buffer, errcode int) {
		require.True(t, buf.IsEmpty())
		gotErr = errcode
		ch.Consumed(0, true)
	})
	ch.FeedError(5)
	assert.Equal(t, 5, gotErr)
	assert.Equal(t, ChannelErrorAcked, ch.State())
	assert.Equal(t, 5, ch.Err())
	assert.True(t, ch.Ended())
	assert.True(t, ch.EndAcked())
}

func TestChannel_StopStart(t *testing.T) {
	ch := NewChannel()
	var notified int
	ch.SetDataCallback(func(*Channel, Buffer, int) {})
	ch.SetConsumedCallback(func(*Channel, int) { notified++ })

	ch.Stop()
	assert.Equal(t, ChannelStopped, ch.State())
	assert.False(t, ch.AcceptingInput())
	assert.True(t, ch.MayAcceptInputLater())
	assert.False(t, ch.IsStarted())

	ch.Start()
	assert.Equal(t, ChannelIdle, ch.State())
	assert.Equal(t, 1, notified)
	assert.True(t, ch.IsStarted())
}

func TestChannel_StopDuringDelivery(t *testing.T) {
	ch := NewChannel()
	ch.SetDataCallback(func(*Channel, Buffer, int) {})
	ch.Feed(StringBuffer("x"))
	ch.Stop()
	ch.Consumed(1, false)
	assert.Equal(t, ChannelStopped, ch.State())
	ch.Start()
	assert.Equal(t, ChannelIdle, ch.State())
}

func TestChannel_FeedWhileBusyPanics(t *testing.T) {
	ch := NewChannel()
	ch.SetDataCallback(func(*Channel, Buffer, int) {})
	ch.Feed(StringBuffer("x"))
	assert.Panics(t, func() { ch.Feed(StringBuffer("y")) })
}

func TestChannel_ConsumedWithoutDeliveryPanics(t *testing.T) {
	ch := NewChannel()
	assert.Panics(t, func() { ch.Consumed(0, false) })
}

func TestChannel_DeinitializeReinitialize(t *testing.T) {
	ch := NewChannel()
	ch.SetDataCallback(func(*Channel, Buffer, int) {})
	ch.Feed(EOSBuffer())
	require.True(t, ch.Ended())

	ch.Deinitialize()
	ch.Reinitialize()
	assert.False(t, ch.Ended())
	assert.True(t, ch.AcceptingInput())

	var got string
	ch.SetDataCallback(func(ch *Channel, buf Buffer, _ int) {
		got = string(buf.Bytes())
		ch.Consumed(buf.Len(), false)
	})
	ch.Feed(StringBuffer("again"))
	assert.Equal(t, "again", got)
}
