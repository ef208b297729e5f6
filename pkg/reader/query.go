package reader

import (
	"sort"

	"github.com/capstream-io/capstream/pkg/types"
)

// forEachIndexed streams the messages of every chunk whose index time range
// can intersect the filter, applying the filter per message. Chunks are
// visited in summary order; messages within a chunk arrive in storage order.
func (r *Reader) forEachIndexed(filter *msgFilter, visit func(*types.Message)) error {
	sum, err := r.withSummary()
	if err != nil {
		return err
	}
	for _, ci := range sum.ChunkIndexes {
		if !filter.chunkMightMatch(ci) {
			continue
		}
		err := r.dec.StreamChunk(ci, func(m *types.Message) error {
			if filter.match(m) {
				visit(m)
			}
			return nil
		})
		if err != nil {
			r.setErr("querying chunk at offset %d failed: %v", ci.ChunkStartOffset, err)
			return err
		}
	}
	return nil
}

func (r *Reader) collect(filter *msgFilter) []*types.Message {
	var out []*types.Message
	if err := r.forEachIndexed(filter, func(m *types.Message) {
		out = append(out, m)
	}); err != nil {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LogTime < out[j].LogTime
	})
	return out
}

func rangeFilter(startUsec, endUsec int64) *msgFilter {
	f := &msgFilter{}
	if startUsec >= 0 {
		f.start, f.hasStart = uint64(startUsec), true
	}
	if endUsec >= 0 {
		f.end, f.hasEnd = uint64(endUsec), true
	}
	return f
}

// MessagesInTimeRange returns every message with start <= log time <= end,
// sorted ascending by log time. A negative bound means unbounded on that
// side. An inverted window records an error and returns nothing.
func (r *Reader) MessagesInTimeRange(startUsec, endUsec int64) []*types.Message {
	r.clearErr()
	if startUsec >= 0 && endUsec >= 0 && startUsec > endUsec {
		r.setErr("%v: start %d after end %d", ErrInvalidArgument, startUsec, endUsec)
		return nil
	}
	return r.collect(rangeFilter(startUsec, endUsec))
}

// MessagesForChannel returns every message on one channel within the window,
// sorted ascending by log time.
func (r *Reader) MessagesForChannel(channelID uint16, startUsec, endUsec int64) []*types.Message {
	r.clearErr()
	if startUsec >= 0 && endUsec >= 0 && startUsec > endUsec {
		r.setErr("%v: start %d after end %d", ErrInvalidArgument, startUsec, endUsec)
		return nil
	}
	f := rangeFilter(startUsec, endUsec)
	f.channels = singleChannel(channelID)
	return r.collect(f)
}

// MessagesForChannels is MessagesForChannel over a channel set. An empty set
// matches nothing.
func (r *Reader) MessagesForChannels(channelIDs []uint16, startUsec, endUsec int64) []*types.Message {
	r.clearErr()
	if startUsec >= 0 && endUsec >= 0 && startUsec > endUsec {
		r.setErr("%v: start %d after end %d", ErrInvalidArgument, startUsec, endUsec)
		return nil
	}
	set := make(map[uint16]struct{}, len(channelIDs))
	for _, id := range channelIDs {
		set[id] = struct{}{}
	}
	f := rangeFilter(startUsec, endUsec)
	f.channels = set
	return r.collect(f)
}

// MessagesForTopic resolves the topic to its lowest channel id and queries
// that channel. An unknown topic records an error and returns nothing.
func (r *Reader) MessagesForTopic(topic string, startUsec, endUsec int64) []*types.Message {
	id := r.TopicToChannelID(topic)
	if id < 0 {
		r.setErr("unknown topic %q", topic)
		return nil
	}
	return r.MessagesForChannel(uint16(id), startUsec, endUsec)
}

// MessageCountTotal returns the total message count, or -1 without a
// summary. Uses the stats record when present, else sums per-chunk message
// index entries without decoding any chunk payloads.
func (r *Reader) MessageCountTotal() int64 {
	r.clearErr()
	sum, err := r.withSummary()
	if err != nil {
		return -1
	}
	if sum.Stats != nil {
		return int64(sum.Stats.MessageCount)
	}
	var total int64
	for _, ci := range sum.ChunkIndexes {
		indexes, err := r.dec.MessageIndexes(ci)
		if err != nil {
			r.setErr("counting messages failed: %v", err)
			return -1
		}
		for _, entries := range indexes {
			total += int64(len(entries))
		}
	}
	return total
}

// MessageCountForChannel returns the message count on one channel, or -1.
func (r *Reader) MessageCountForChannel(channelID uint16) int64 {
	r.clearErr()
	sum, err := r.withSummary()
	if err != nil {
		return -1
	}
	if sum.Stats != nil && sum.Stats.ChannelMessageCounts != nil {
		return int64(sum.Stats.ChannelMessageCounts[channelID])
	}
	var total int64
	for _, ci := range sum.ChunkIndexes {
		if _, ok := ci.MessageIndexOffsets[channelID]; !ok {
			continue
		}
		indexes, err := r.dec.MessageIndexes(ci)
		if err != nil {
			r.setErr("counting messages failed: %v", err)
			return -1
		}
		total += int64(len(indexes[channelID]))
	}
	return total
}

// countEntriesInRange counts index entries with start <= log time <= end in
// an ascending entry slice, by binary-searching both boundaries.
func countEntriesInRange(entries []types.MessageIndexEntry, f *msgFilter) int64 {
	lo := 0
	if f.hasStart {
		lo = sort.Search(len(entries), func(i int) bool {
			return entries[i].LogTime >= f.start
		})
	}
	hi := len(entries)
	if f.hasEnd {
		hi = sort.Search(len(entries), func(i int) bool {
			return entries[i].LogTime > f.end
		})
	}
	if hi < lo {
		return 0
	}
	return int64(hi - lo)
}

// MessageCountInRange counts messages in the window across all channels
// using message indexes only, or -1 on failure.
func (r *Reader) MessageCountInRange(startUsec, endUsec int64) int64 {
	r.clearErr()
	sum, err := r.withSummary()
	if err != nil {
		return -1
	}
	if startUsec >= 0 && endUsec >= 0 && startUsec > endUsec {
		r.setErr("%v: start %d after end %d", ErrInvalidArgument, startUsec, endUsec)
		return -1
	}
	f := rangeFilter(startUsec, endUsec)
	var total int64
	for _, ci := range sum.ChunkIndexes {
		if !f.chunkMightMatch(ci) {
			continue
		}
		indexes, err := r.dec.MessageIndexes(ci)
		if err != nil {
			r.setErr("counting messages failed: %v", err)
			return -1
		}
		for _, entries := range indexes {
			total += countEntriesInRange(entries, f)
		}
	}
	return total
}

// MessageCountForChannelInRange counts one channel's messages in the window
// using message indexes only, or -1 on failure.
func (r *Reader) MessageCountForChannelInRange(channelID uint16, startUsec, endUsec int64) int64 {
	r.clearErr()
	sum, err := r.withSummary()
	if err != nil {
		return -1
	}
	if startUsec >= 0 && endUsec >= 0 && startUsec > endUsec {
		r.setErr("%v: start %d after end %d", ErrInvalidArgument, startUsec, endUsec)
		return -1
	}
	f := rangeFilter(startUsec, endUsec)
	var total int64
	for _, ci := range sum.ChunkIndexes {
		if !f.chunkMightMatch(ci) {
			continue
		}
		if _, ok := ci.MessageIndexOffsets[channelID]; !ok {
			continue
		}
		indexes, err := r.dec.MessageIndexes(ci)
		if err != nil {
			r.setErr("counting messages failed: %v", err)
			return -1
		}
		total += countEntriesInRange(indexes[channelID], f)
	}
	return total
}

// ChannelIDs returns every channel id in the summary, sorted ascending.
func (r *Reader) ChannelIDs() []uint16 {
	r.clearErr()
	sum, err := r.withSummary()
	if err != nil {
		return nil
	}
	ids := make([]uint16, 0, len(sum.Channels))
	for id := range sum.Channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// TopicNames returns every distinct topic in the summary, sorted.
func (r *Reader) TopicNames() []string {
	r.clearErr()
	sum, err := r.withSummary()
	if err != nil {
		return nil
	}
	seen := map[string]struct{}{}
	var names []string
	for _, ch := range sum.Channels {
		if _, ok := seen[ch.Topic]; ok {
			continue
		}
		seen[ch.Topic] = struct{}{}
		names = append(names, ch.Topic)
	}
	sort.Strings(names)
	return names
}

// TopicToChannelID returns the lowest channel id publishing the topic, or -1.
func (r *Reader) TopicToChannelID(topic string) int32 {
	r.clearErr()
	sum, err := r.withSummary()
	if err != nil {
		return -1
	}
	best := int32(-1)
	for id, ch := range sum.Channels {
		if ch.Topic != topic {
			continue
		}
		if best < 0 || int32(id) < best {
			best = int32(id)
		}
	}
	return best
}

// ChannelsForSchema returns the ids of channels whose schema matches, sorted.
func (r *Reader) ChannelsForSchema(schemaID uint16) []uint16 {
	r.clearErr()
	sum, err := r.withSummary()
	if err != nil {
		return nil
	}
	var ids []uint16
	for id, ch := range sum.Channels {
		if ch.SchemaID == schemaID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SchemaForChannel returns the schema backing a channel, or nil for
// schema-less channels and unknown ids.
func (r *Reader) SchemaForChannel(channelID uint16) *types.Schema {
	r.clearErr()
	sum, err := r.withSummary()
	if err != nil {
		return nil
	}
	return sum.SchemaForChannel(channelID)
}
