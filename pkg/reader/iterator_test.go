package reader

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capstream-io/capstream/pkg/codec"
)

func drain(it *MessageIterator) []uint64 {
	var out []uint64
	for it.HasNext() {
		out = append(out, it.Next().LogTime)
	}
	return out
}

func TestIteratorFullPass(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	it := r.StreamIterator()
	require.Equal(t, []uint64{10, 15, 20, 25, 30}, drain(it))
	require.Equal(t, int64(5), it.CurrentIndex())
	require.False(t, it.HasNext())
	require.Nil(t, it.Next())

	it.Rewind()
	require.Equal(t, int64(0), it.CurrentIndex())
	require.Equal(t, []uint64{10, 15, 20, 25, 30}, drain(it))
}

func TestIteratorPeekDoesNotConsume(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	it := r.StreamIterator()
	require.Equal(t, uint64(10), it.Peek().LogTime)
	require.Equal(t, uint64(10), it.Peek().LogTime)
	require.Equal(t, int64(0), it.CurrentIndex())
	require.Equal(t, uint64(10), it.Next().LogTime)
	require.Equal(t, int64(1), it.CurrentIndex())
	require.Equal(t, uint64(15), it.Peek().LogTime)
}

func TestIteratorChannelFilter(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	it := r.StreamIterator()
	it.ForChannel(1)
	require.Equal(t, []uint64{15, 25}, drain(it))

	it.ClearFilter()
	require.Equal(t, []uint64{10, 15, 20, 25, 30}, drain(it))
}

func TestIteratorAcrossChunks(t *testing.T) {
	// tiny chunks force one message per chunk
	r := FromBytes(twoChannelLog(t, &codec.WriterOptions{ChunkSize: 8}))
	defer r.Close()

	require.Greater(t, r.ChunkCount(), 1)
	it := r.StreamIterator()
	require.Equal(t, []uint64{10, 15, 20, 25, 30}, drain(it))
}

func TestSeekToTime(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	it := r.StreamIterator()
	require.True(t, it.SeekToTime(12))
	require.Equal(t, []uint64{15, 20, 25, 30}, drain(it))

	require.True(t, it.SeekToTime(15))
	require.Equal(t, uint64(15), it.Peek().LogTime)

	require.True(t, it.SeekToTime(-5))
	require.Equal(t, uint64(10), it.Peek().LogTime)

	require.False(t, it.SeekToTime(31))
}

func TestSeekToTimeNearest(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	it := r.StreamIterator()
	require.True(t, it.SeekToTimeNearest(5))
	require.Equal(t, uint64(10), it.Peek().LogTime)

	require.True(t, it.SeekToTimeNearest(100))
	require.Equal(t, uint64(30), it.Peek().LogTime)

	require.True(t, it.SeekToTimeNearest(17))
	require.Equal(t, uint64(20), it.Peek().LogTime)
}

func TestSeekToTimeNearestHonorsFilter(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	it := r.StreamIterator()
	it.ForChannel(1)
	require.True(t, it.SeekToTimeNearest(100))
	require.Equal(t, uint64(25), it.Peek().LogTime)
}

func TestSeekToNextOnChannel(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	it := r.StreamIterator()
	require.True(t, it.SeekToNextOnChannel(0, 10))
	require.Equal(t, uint64(20), it.Peek().LogTime)

	require.True(t, it.SeekToNextOnChannel(1, 0))
	require.Equal(t, uint64(15), it.Peek().LogTime)

	require.False(t, it.SeekToNextOnChannel(1, 25))
	require.False(t, it.SeekToNextOnChannel(7, 0))
}

func TestGetMessageAtTime(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	it := r.StreamIterator()
	msg := it.GetMessageAtTime(1, 25)
	require.NotNil(t, msg)
	require.Equal(t, uint64(25), msg.LogTime)
	require.Equal(t, []byte("d25"), msg.Data)

	require.Nil(t, it.GetMessageAtTime(1, 26))
	require.Nil(t, it.GetMessageAtTime(0, 25))
	require.Nil(t, it.GetMessageAtTime(7, 10))
}

func TestIteratorWithoutSummary(t *testing.T) {
	r := FromBytes(twoChannelLog(t, &codec.WriterOptions{DisableSummary: true}))
	defer r.Close()

	it := r.StreamIterator()
	require.False(t, it.HasNext())
	require.Nil(t, it.Next())
	require.False(t, it.SeekToTime(0))
	require.False(t, it.SeekToTimeNearest(0))
	require.False(t, it.SeekToNextOnChannel(0, 0))
	require.Nil(t, it.GetMessageAtTime(0, 10))
}

func TestIteratorOutOfOrderWithinChunk(t *testing.T) {
	// messages written out of log-time order are still yielded sorted
	var buf bytes.Buffer
	w, err := codec.NewWriter(&buf, nil)
	require.NoError(t, err)
	ch, err := w.AddChannel(0, "/t", "raw", nil)
	require.NoError(t, err)
	for _, lt := range []uint64{30, 10, 20} {
		require.NoError(t, w.WriteMessage(ch, 0, lt, lt, nil))
	}
	require.NoError(t, w.Close())

	r := FromBytes(buf.Bytes())
	defer r.Close()
	require.Equal(t, []uint64{10, 20, 30}, drain(r.StreamIterator()))
}

func TestIteratorOutOfOrderChunks(t *testing.T) {
	// one message per chunk, written out of log-time order: chunk ranges end
	// up out of order in the summary. Global ordering is not guaranteed then,
	// but every message must still be yielded exactly once.
	var buf bytes.Buffer
	w, err := codec.NewWriter(&buf, &codec.WriterOptions{ChunkSize: 8})
	require.NoError(t, err)
	ch, err := w.AddChannel(0, "/t", "raw", nil)
	require.NoError(t, err)
	for _, lt := range []uint64{30, 10, 20} {
		require.NoError(t, w.WriteMessage(ch, 0, lt, lt, nil))
	}
	require.NoError(t, w.Close())

	r := FromBytes(buf.Bytes())
	defer r.Close()
	require.Greater(t, r.ChunkCount(), 1)

	seen := map[uint64]int{}
	it := r.StreamIterator()
	for it.HasNext() {
		seen[it.Next().LogTime]++
	}
	require.Equal(t, map[uint64]int{10: 1, 20: 1, 30: 1}, seen)
}

func TestIteratorExactlyOnce(t *testing.T) {
	r := FromBytes(twoChannelLog(t, &codec.WriterOptions{ChunkSize: 8}))
	defer r.Close()

	seen := map[uint64]int{}
	it := r.StreamIterator()
	var prev uint64
	for it.HasNext() {
		m := it.Next()
		require.GreaterOrEqual(t, m.LogTime, prev)
		prev = m.LogTime
		seen[m.LogTime]++
	}
	for lt, n := range seen {
		require.Equal(t, 1, n, "log time %d yielded %d times", lt, n)
	}
	require.Len(t, seen, 5)
}
