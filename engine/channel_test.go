package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadWaitDeliversQueuedFrame(t *testing.T) {
	c := NewChannel(StateDown, "100", "default", "", "Test/readwait-1")
	defer Release(c)

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Lock()
		c.QueueFrameLocked(Frame{Kind: FrameVoice, Payload: []byte("pcm")})
		c.Unlock()
	}()

	f, err := c.ReadWait(context.Background())
	require.NoError(t, err)
	require.Equal(t, FrameVoice, f.Kind)
	require.Equal(t, "pcm", string(f.Payload))
}

func TestReadWaitHonorsContext(t *testing.T) {
	c := NewChannel(StateDown, "100", "default", "", "Test/readwait-2")
	defer Release(c)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.ReadWait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueFrameCopiesPayload(t *testing.T) {
	c := NewChannel(StateDown, "100", "default", "", "Test/copy-1")
	defer Release(c)

	buf := []byte("abc")
	c.Lock()
	c.QueueFrameLocked(Frame{Kind: FrameVoice, Payload: buf})
	c.Unlock()
	buf[0] = 'z'

	c.Lock()
	f, ok := c.ReadFrameLocked()
	c.Unlock()
	require.True(t, ok)
	require.Equal(t, "abc", string(f.Payload))
}

func TestVarsReplaceAndPreserveOrder(t *testing.T) {
	c := NewChannel(StateDown, "100", "default", "", "Test/vars-1")
	defer Release(c)

	c.Lock()
	c.SetVarLocked("A", "1")
	c.SetVarLocked("B", "2")
	c.SetVarLocked("C", "3")
	c.SetVarLocked("B", "two")
	vars := c.VarsLocked()
	v, found := c.VarLocked("B")
	_, missing := c.VarLocked("D")
	c.Unlock()

	require.Equal(t, []Variable{{Name: "A", Value: "1"}, {Name: "B", Value: "two"}, {Name: "C", Value: "3"}}, vars)
	require.True(t, found)
	require.Equal(t, "two", v)
	require.False(t, missing)
}

func TestChannelTableLookupAndRelease(t *testing.T) {
	c := NewChannel(StateDown, "100", "default", "", "Test/table-1")
	require.Same(t, c, ChannelByName("Test/table-1"))
	Release(c)
	require.Nil(t, ChannelByName("Test/table-1"))

	// A release of a displaced object must not evict its replacement.
	first := NewChannel(StateDown, "100", "default", "", "Test/table-2")
	second := NewChannel(StateDown, "100", "default", "", "Test/table-2")
	Release(first)
	require.Same(t, second, ChannelByName("Test/table-2"))
	Release(second)
}

func TestSoftHangupFlagsAndQueues(t *testing.T) {
	c := NewChannel(StateUp, "100", "default", "", "Test/soft-1")
	defer Release(c)

	require.False(t, c.CheckHangup())
	c.SoftHangup(CauseUserBusy)
	require.True(t, c.CheckHangup())

	c.Lock()
	f, ok := c.ReadFrameLocked()
	c.Unlock()
	require.True(t, ok)
	require.Equal(t, FrameControl, f.Kind)
	require.Equal(t, CondHangup, f.Condition)
	require.Equal(t, CauseUserBusy, f.Cause)
}

func TestLinkedIDDefaultsToUniqueID(t *testing.T) {
	c := NewChannel(StateDown, "100", "default", "", "Test/linked-1")
	defer Release(c)
	require.Equal(t, c.UniqueID(), c.LinkedID())

	d := NewChannel(StateDown, "100", "default", c.UniqueID(), "Test/linked-2")
	defer Release(d)
	require.Equal(t, c.UniqueID(), d.LinkedID())
}

func TestInheritDatastores(t *testing.T) {
	from := NewChannel(StateDown, "100", "default", "", "Test/ds-1")
	to := NewChannel(StateDown, "100", "default", "", "Test/ds-2")
	defer Release(from)
	defer Release(to)

	from.Lock()
	from.AttachDatastoreLocked(Datastore{Type: "carried", UID: "a", Inherit: true})
	from.AttachDatastoreLocked(Datastore{Type: "private", UID: "b"})
	from.Unlock()

	from.Lock()
	to.Lock()
	InheritDatastoresLocked(from, to)
	stores := to.DatastoresLocked()
	to.Unlock()
	from.Unlock()

	require.Len(t, stores, 1)
	require.Equal(t, "carried", stores[0].Type)
}

func TestBestFormat(t *testing.T) {
	require.Equal(t, Format(0), BestFormat(0))
	require.Equal(t, FormatULAW, BestFormat(FormatULAW|FormatALAW|FormatH264))
	require.Equal(t, FormatSLIN, BestFormat(FormatSLIN))
}

func TestSetFormatsDerivesReadWrite(t *testing.T) {
	c := NewChannel(StateDown, "100", "default", "", "Test/fmt-1")
	defer Release(c)

	c.Lock()
	c.SetFormatsLocked(FormatULAW | FormatGSM)
	native := c.NativeFormatsLocked()
	c.Unlock()
	require.Equal(t, FormatULAW|FormatGSM, native)
	require.Equal(t, FormatULAW|FormatGSM, c.NativeFormats())
}
