package replay

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capstream-io/capstream/pkg/codec"
	"github.com/capstream-io/capstream/pkg/reader"
	"github.com/capstream-io/capstream/pkg/types"
)

// fakeClock lets tests move wall time by hand.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1000, 0)}
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

// fixtureReader builds a log with channel 0 at 10, 20, 30 and channel 1 at
// 15, 25 microseconds.
func fixtureReader(t *testing.T) *reader.Reader {
	t.Helper()
	var buf bytes.Buffer
	w, err := codec.NewWriter(&buf, nil)
	require.NoError(t, err)
	ch0, err := w.AddChannel(0, "/pose", "raw", nil)
	require.NoError(t, err)
	ch1, err := w.AddChannel(0, "/diag", "raw", nil)
	require.NoError(t, err)
	require.NoError(t, w.WriteMessage(ch0, 0, 10, 10, nil))
	require.NoError(t, w.WriteMessage(ch1, 0, 15, 15, nil))
	require.NoError(t, w.WriteMessage(ch0, 1, 20, 20, nil))
	require.NoError(t, w.WriteMessage(ch1, 1, 25, 25, nil))
	require.NoError(t, w.WriteMessage(ch0, 2, 30, 30, nil))
	require.NoError(t, w.Close())

	r := reader.FromBytes(buf.Bytes())
	t.Cleanup(func() { r.Close() })
	return r
}

func testScheduler(t *testing.T, collect *[]uint64) (*Scheduler, *fakeClock) {
	clock := newFakeClock()
	s := NewScheduler(func(m *types.Message) {
		*collect = append(*collect, m.LogTime)
	})
	s.SetClock(clock.now)
	s.SetReader(fixtureReader(t))
	return s, clock
}

func TestStartRequiresReader(t *testing.T) {
	s := NewScheduler(nil)
	require.False(t, s.Start())
	require.False(t, s.IsRunning())
}

func TestStartRequiresSummary(t *testing.T) {
	var buf bytes.Buffer
	w, err := codec.NewWriter(&buf, &codec.WriterOptions{DisableSummary: true})
	require.NoError(t, err)
	ch, err := w.AddChannel(0, "/t", "raw", nil)
	require.NoError(t, err)
	require.NoError(t, w.WriteMessage(ch, 0, 10, 10, nil))
	require.NoError(t, w.Close())

	r := reader.FromBytes(buf.Bytes())
	defer r.Close()

	s := NewScheduler(nil)
	s.SetReader(r)
	require.False(t, s.Start())
}

func TestTickEmitsDueMessages(t *testing.T) {
	var got []uint64
	s, clock := testScheduler(t, &got)

	require.True(t, s.Start())
	require.Equal(t, int64(10), s.CurrentTime())

	// the message anchoring the start is due immediately
	require.Equal(t, 1, s.Tick())
	require.Equal(t, []uint64{10}, got)

	clock.advance(7 * time.Microsecond) // log position 17
	require.Equal(t, 1, s.Tick())
	require.Equal(t, []uint64{10, 15}, got)

	clock.advance(13 * time.Microsecond) // log position 30
	require.Equal(t, 3, s.Tick())
	require.Equal(t, []uint64{10, 15, 20, 25, 30}, got)
	require.False(t, s.IsRunning())
}

func TestTickNothingDue(t *testing.T) {
	var got []uint64
	s, clock := testScheduler(t, &got)

	require.True(t, s.Start())
	s.Tick()
	got = got[:0]

	clock.advance(2 * time.Microsecond) // log position 12
	require.Equal(t, 0, s.Tick())
	require.Empty(t, got)
	require.True(t, s.IsRunning())
}

func TestSpeedScalesPlayback(t *testing.T) {
	var got []uint64
	s, clock := testScheduler(t, &got)
	s.SetSpeed(2.0)

	require.True(t, s.Start())
	s.Tick()

	clock.advance(5 * time.Microsecond) // log position 10 + 5*2 = 20
	s.Tick()
	require.Equal(t, []uint64{10, 15, 20}, got)
}

func TestInvalidSpeedResets(t *testing.T) {
	s := NewScheduler(nil)
	s.SetSpeed(-3)
	require.Equal(t, 1.0, s.Speed())
	s.SetSpeed(0.5)
	require.Equal(t, 0.5, s.Speed())
}

func TestTimeRangeWindow(t *testing.T) {
	var got []uint64
	s, clock := testScheduler(t, &got)
	s.SetTimeRange(15, 25)

	require.True(t, s.Start())
	require.Equal(t, int64(15), s.CurrentTime())

	clock.advance(100 * time.Microsecond)
	s.Tick()
	require.Equal(t, []uint64{15, 20, 25}, got)
	require.False(t, s.IsRunning())
}

func TestLooping(t *testing.T) {
	var got []uint64
	s, clock := testScheduler(t, &got)
	s.SetLooping(true)

	require.True(t, s.Start())
	clock.advance(100 * time.Microsecond)
	s.Tick()
	require.Equal(t, []uint64{10, 15, 20, 25, 30}, got)
	require.True(t, s.IsRunning())
	require.Equal(t, int64(10), s.CurrentTime())

	got = got[:0]
	clock.advance(20 * time.Microsecond) // log position 30 again
	s.Tick()
	require.Equal(t, []uint64{10, 15, 20, 25, 30}, got)
	require.True(t, s.IsRunning())
}

func TestSingleChannelFilter(t *testing.T) {
	var got []uint64
	s, clock := testScheduler(t, &got)
	s.SetFilterChannels([]uint16{1})

	require.True(t, s.Start())
	clock.advance(100 * time.Microsecond)
	s.Tick()
	require.Equal(t, []uint64{15, 25}, got)
}

func TestMultiChannelFilter(t *testing.T) {
	var got []uint64
	s, clock := testScheduler(t, &got)
	s.SetFilterChannels([]uint16{0, 1})

	require.True(t, s.Start())
	clock.advance(100 * time.Microsecond)
	s.Tick()
	require.Equal(t, []uint64{10, 15, 20, 25, 30}, got)
}

func TestFilterChangeWhileRunning(t *testing.T) {
	var got []uint64
	s, clock := testScheduler(t, &got)

	require.True(t, s.Start())
	s.Tick()
	clock.advance(7 * time.Microsecond) // log position 17
	s.Tick()
	require.Equal(t, []uint64{10, 15}, got)

	s.SetFilterChannels([]uint16{1})
	require.True(t, s.IsRunning())

	got = got[:0]
	clock.advance(100 * time.Microsecond)
	s.Tick()
	require.Equal(t, []uint64{25}, got)
}

func TestSeekToTime(t *testing.T) {
	var got []uint64
	s, clock := testScheduler(t, &got)

	require.True(t, s.Start())
	require.True(t, s.SeekToTime(20))
	require.Equal(t, int64(20), s.CurrentTime())

	s.Tick()
	require.Equal(t, []uint64{20}, got)

	clock.advance(10 * time.Microsecond)
	s.Tick()
	require.Equal(t, []uint64{20, 25, 30}, got)
}

func TestStopDiscardsPosition(t *testing.T) {
	var got []uint64
	s, clock := testScheduler(t, &got)

	require.True(t, s.Start())
	s.Tick()
	s.Stop()
	require.False(t, s.IsRunning())
	require.Equal(t, 0, s.Tick())

	got = got[:0]
	require.True(t, s.Start())
	clock.advance(100 * time.Microsecond)
	s.Tick()
	require.Equal(t, []uint64{10, 15, 20, 25, 30}, got)
}

func TestHandlerMayStopMidTick(t *testing.T) {
	var got []uint64
	clock := newFakeClock()
	var s *Scheduler
	s = NewScheduler(func(m *types.Message) {
		got = append(got, m.LogTime)
		if m.LogTime == 20 {
			s.Stop()
		}
	})
	s.SetClock(clock.now)
	s.SetReader(fixtureReader(t))

	require.True(t, s.Start())
	clock.advance(100 * time.Microsecond)

	// everything already due is still delivered, then playback halts
	s.Tick()
	require.Equal(t, []uint64{10, 15, 20, 25, 30}, got)
	require.False(t, s.IsRunning())

	require.Equal(t, 0, s.Tick())
	require.Equal(t, []uint64{10, 15, 20, 25, 30}, got)
}

func TestStopClearsState(t *testing.T) {
	var got []uint64
	s, clock := testScheduler(t, &got)

	require.True(t, s.Start())
	s.Tick()
	clock.advance(7 * time.Microsecond)
	s.Stop()

	require.Equal(t, int64(-1), s.CurrentTime())
	require.False(t, s.SeekToTime(20))
	require.Equal(t, 0, s.Tick())
}

func TestCurrentTimeAfterClearReader(t *testing.T) {
	var got []uint64
	s, clock := testScheduler(t, &got)

	require.True(t, s.Start())
	s.Tick()
	clock.advance(7 * time.Microsecond)
	s.ClearReader()

	require.Equal(t, int64(-1), s.CurrentTime())
	require.Equal(t, 0, s.Tick())
	require.False(t, s.Start())
}

func TestCurrentTimeBeforeStart(t *testing.T) {
	s := NewScheduler(nil)
	s.SetReader(fixtureReader(t))
	require.Equal(t, int64(-1), s.CurrentTime())
}
