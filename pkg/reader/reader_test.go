package reader

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capstream-io/capstream/pkg/codec"
	"github.com/capstream-io/capstream/pkg/types"
)

// twoChannelLog builds the canonical fixture used across the package:
// channel 0 (/pose) at 10, 20, 30 and channel 1 (/diag) at 15, 25.
func twoChannelLog(t *testing.T, opts *codec.WriterOptions) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := codec.NewWriter(&buf, opts)
	require.NoError(t, err)

	schemaID, err := w.AddSchema("geometry/Pose", "ros1msg", []byte("float64 x"))
	require.NoError(t, err)
	ch0, err := w.AddChannel(schemaID, "/pose", "ros1", nil)
	require.NoError(t, err)
	ch1, err := w.AddChannel(0, "/diag", "json", nil)
	require.NoError(t, err)

	require.NoError(t, w.WriteMessage(ch0, 0, 10, 10, []byte("p10")))
	require.NoError(t, w.WriteMessage(ch1, 0, 15, 15, []byte("d15")))
	require.NoError(t, w.WriteMessage(ch0, 1, 20, 20, []byte("p20")))
	require.NoError(t, w.WriteMessage(ch1, 1, 25, 25, []byte("d25")))
	require.NoError(t, w.WriteMessage(ch0, 2, 30, 30, []byte("p30")))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func logTimes(msgs []*types.Message) []uint64 {
	out := make([]uint64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.LogTime)
	}
	return out
}

func TestOpenFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.log")
	require.NoError(t, os.WriteFile(path, twoChannelLog(t, nil), 0o644))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.True(t, r.HasSummary())
	require.Equal(t, path, r.Path())
	require.Equal(t, int64(5), r.MessageCountTotal())
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.log"))
	require.Error(t, err)
}

func TestMessagesLinearScan(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	msgs := r.Messages()
	require.Equal(t, []uint64{10, 15, 20, 25, 30}, logTimes(msgs))
	require.Empty(t, r.LastError())

	raw := r.RawMessages()
	require.Len(t, raw, 5)
	require.Equal(t, uint16(1), raw[1].Header.ChannelID)
}

func TestMessagesInTimeRange(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	require.Equal(t, []uint64{15, 20, 25}, logTimes(r.MessagesInTimeRange(12, 26)))
	require.Equal(t, []uint64{10, 15, 20, 25, 30}, logTimes(r.MessagesInTimeRange(-1, -1)))
	require.Equal(t, []uint64{20, 25, 30}, logTimes(r.MessagesInTimeRange(20, -1)))
	require.Equal(t, []uint64{10, 15}, logTimes(r.MessagesInTimeRange(-1, 15)))
	require.Empty(t, r.MessagesInTimeRange(40, 50))
	require.Empty(t, r.LastError())
}

func TestMessagesInTimeRangeInverted(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	require.Empty(t, r.MessagesInTimeRange(26, 12))
	require.NotEmpty(t, r.LastError())

	// a later successful call clears the error
	require.NotEmpty(t, r.MessagesInTimeRange(-1, -1))
	require.Empty(t, r.LastError())
}

func TestMessagesForChannel(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	require.Equal(t, []uint64{10, 20, 30}, logTimes(r.MessagesForChannel(0, -1, -1)))
	require.Equal(t, []uint64{15, 25}, logTimes(r.MessagesForChannel(1, -1, -1)))
	require.Equal(t, []uint64{20}, logTimes(r.MessagesForChannel(0, 12, 26)))
	require.Empty(t, r.MessagesForChannel(7, -1, -1))
}

func TestMessagesForChannels(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	require.Equal(t, []uint64{10, 15, 20, 25, 30}, logTimes(r.MessagesForChannels([]uint16{0, 1}, -1, -1)))
	require.Equal(t, []uint64{15, 25}, logTimes(r.MessagesForChannels([]uint16{1}, -1, -1)))
	require.Empty(t, r.MessagesForChannels(nil, -1, -1))
}

func TestMessagesForTopic(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	require.Equal(t, []uint64{15, 25}, logTimes(r.MessagesForTopic("/diag", -1, -1)))
	require.Empty(t, r.MessagesForTopic("/missing", -1, -1))
	require.NotEmpty(t, r.LastError())
}

func TestMessageCounts(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	require.Equal(t, int64(5), r.MessageCountTotal())
	require.Equal(t, int64(3), r.MessageCountForChannel(0))
	require.Equal(t, int64(2), r.MessageCountForChannel(1))
	require.Equal(t, int64(0), r.MessageCountForChannel(7))

	require.Equal(t, int64(3), r.MessageCountInRange(12, 26))
	require.Equal(t, int64(5), r.MessageCountInRange(-1, -1))
	require.Equal(t, int64(1), r.MessageCountForChannelInRange(0, 12, 26))
	require.Equal(t, int64(2), r.MessageCountForChannelInRange(1, 12, 26))
	require.Equal(t, int64(0), r.MessageCountInRange(40, 50))
}

func TestCountsMatchQueryLengths(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	for _, window := range [][2]int64{{-1, -1}, {12, 26}, {10, 10}, {31, 40}} {
		start, end := window[0], window[1]
		require.Equal(t, int64(len(r.MessagesInTimeRange(start, end))), r.MessageCountInRange(start, end))
		for _, ch := range []uint16{0, 1} {
			require.Equal(t, int64(len(r.MessagesForChannel(ch, start, end))), r.MessageCountForChannelInRange(ch, start, end))
		}
	}
}

func TestChannelAndTopicLookups(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	require.Equal(t, []uint16{0, 1}, r.ChannelIDs())
	require.Equal(t, []string{"/diag", "/pose"}, r.TopicNames())
	require.Equal(t, int32(0), r.TopicToChannelID("/pose"))
	require.Equal(t, int32(-1), r.TopicToChannelID("/missing"))

	schema := r.SchemaForChannel(0)
	require.NotNil(t, schema)
	require.Equal(t, "geometry/Pose", schema.Name)
	require.Nil(t, r.SchemaForChannel(1))

	require.Equal(t, []uint16{0}, r.ChannelsForSchema(schema.ID))
}

func TestTimeBounds(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	require.Equal(t, int64(10), r.FirstMessageTime())
	require.Equal(t, int64(30), r.LastMessageTime())
	require.Equal(t, int64(20), r.Duration())
}

func TestTimeBoundsClearStaleError(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	require.Empty(t, r.MessagesInTimeRange(26, 12))
	require.NotEmpty(t, r.LastError())

	require.Equal(t, int64(10), r.FirstMessageTime())
	require.Empty(t, r.LastError())

	require.Empty(t, r.MessagesInTimeRange(26, 12))
	require.Equal(t, int64(30), r.LastMessageTime())
	require.Empty(t, r.LastError())
}

func TestNoSummaryDegradation(t *testing.T) {
	r := FromBytes(twoChannelLog(t, &codec.WriterOptions{DisableSummary: true}))
	defer r.Close()

	require.False(t, r.HasSummary())

	// linear access still works
	require.Equal(t, []uint64{10, 15, 20, 25, 30}, logTimes(r.Messages()))

	// indexed operations fail closed with a retrievable reason
	require.Empty(t, r.MessagesInTimeRange(-1, -1))
	require.NotEmpty(t, r.LastError())
	require.Equal(t, int64(-1), r.MessageCountTotal())
	require.Equal(t, int64(-1), r.FirstMessageTime())
	require.Nil(t, r.ChannelIDs())
	require.Equal(t, 0, r.ChunkCount())
}

func TestClosedReaderFailsClosed(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	require.NoError(t, r.Close())

	require.Empty(t, r.Messages())
	require.Equal(t, int64(-1), r.MessageCountTotal())
	require.NotEmpty(t, r.LastError())
	require.NoError(t, r.Close())
}

func TestAttachmentsAndMetadata(t *testing.T) {
	var buf bytes.Buffer
	w, err := codec.NewWriter(&buf, nil)
	require.NoError(t, err)
	ch, err := w.AddChannel(0, "/t", "raw", nil)
	require.NoError(t, err)
	require.NoError(t, w.WriteMessage(ch, 0, 10, 10, nil))
	require.NoError(t, w.WriteAttachment(&types.Attachment{
		LogTime: 5, Name: "calib.bin", MediaType: "application/octet-stream", Data: []byte{9},
	}))
	require.NoError(t, w.WriteMetadata(&types.Metadata{
		Name: "session", Metadata: map[string]string{"host": "rig-7"},
	}))
	require.NoError(t, w.Close())

	r := FromBytes(buf.Bytes())
	defer r.Close()

	atts := r.Attachments()
	require.Len(t, atts, 1)
	require.Equal(t, "calib.bin", atts[0].Name)

	metas := r.MetadataEntries()
	require.Len(t, metas, 1)
	require.Equal(t, "rig-7", metas[0].Metadata["host"])
}

func TestChunkIndexAccess(t *testing.T) {
	r := FromBytes(twoChannelLog(t, nil))
	defer r.Close()

	require.Equal(t, 1, r.ChunkCount())
	cis := r.ChunkIndexes()
	require.Len(t, cis, 1)
	require.Equal(t, uint64(10), cis[0].MessageStartTime)
	require.Equal(t, uint64(30), cis[0].MessageEndTime)

	indexes := r.MessageIndexesForChunk(cis[0])
	require.Len(t, indexes[0], 3)
	require.Len(t, indexes[1], 2)

	msg := r.SeekMessage(cis[0], indexes[1][1])
	require.NotNil(t, msg)
	require.Equal(t, uint64(25), msg.LogTime)
	require.Equal(t, "/diag", msg.Channel.Topic)
}
