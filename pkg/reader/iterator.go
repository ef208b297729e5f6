package reader

import (
	"sort"

	"github.com/capstream-io/capstream/pkg/codec"
	"github.com/capstream-io/capstream/pkg/types"
	"github.com/capstream-io/capstream/util"
)

// MessageIterator yields messages across channels and chunks in
// non-decreasing log-time order, with peek/consume semantics and seek
// helpers. It buffers one chunk at a time: the chunk's messages are decoded,
// filtered, sorted by log time and drained before the next chunk index is
// loaded.
//
// Ordering is exact within a chunk and across chunks whose index time
// ranges do not overlap. If chunk ranges overlap (the format does not forbid
// it), ordering is only approximate at chunk boundaries; a k-way merge
// across all chunks would be needed for strict ordering and is deliberately
// not implemented here.
type MessageIterator struct {
	dec           *codec.Decoder
	sum           *types.Summary
	filterChannel int32 // -1 means no filter

	index  int64
	peeked *types.Message
	chunkI int
	msgs   []*types.Message
	pos    int
}

// StreamIterator builds an iterator over the reader's log. Requires a
// summary; without one the iterator is empty and every seek fails closed.
func (r *Reader) StreamIterator() *MessageIterator {
	return &MessageIterator{
		dec:           r.dec,
		sum:           r.summary,
		filterChannel: -1,
	}
}

// ForChannel restricts the iterator to a single channel id and resets the
// position.
func (it *MessageIterator) ForChannel(channelID uint16) {
	it.filterChannel = int32(channelID)
	it.reset()
}

// ClearFilter removes the channel restriction and resets the position.
func (it *MessageIterator) ClearFilter() {
	it.filterChannel = -1
	it.reset()
}

// Rewind resets the iterator to the start of the log.
func (it *MessageIterator) Rewind() {
	it.reset()
}

// CurrentIndex returns the number of messages consumed so far.
func (it *MessageIterator) CurrentIndex() int64 {
	return it.index
}

func (it *MessageIterator) reset() {
	it.index = 0
	it.peeked = nil
	it.chunkI = 0
	it.msgs = nil
	it.pos = 0
}

func (it *MessageIterator) channelFilter() map[uint16]struct{} {
	if it.filterChannel < 0 {
		return nil
	}
	return singleChannel(uint16(it.filterChannel))
}

// prepareNextChunk loads chunks starting at chunkI until one yields a
// non-empty filtered, sorted batch. A chunk that fails to decode is logged
// and skipped rather than ending iteration.
func (it *MessageIterator) prepareNextChunk() bool {
	if it.sum == nil {
		return false
	}
	filter := &msgFilter{channels: it.channelFilter()}
	for it.chunkI < len(it.sum.ChunkIndexes) {
		ci := it.sum.ChunkIndexes[it.chunkI]
		it.msgs = it.msgs[:0]
		it.pos = 0
		err := it.dec.StreamChunk(ci, func(m *types.Message) error {
			if filter.match(m) {
				it.msgs = append(it.msgs, m)
			}
			return nil
		})
		if err != nil {
			util.Error("iterator: decoding chunk %d failed: %v", it.chunkI, err)
		} else {
			sort.SliceStable(it.msgs, func(i, j int) bool {
				return it.msgs[i].LogTime < it.msgs[j].LogTime
			})
			if len(it.msgs) > 0 {
				return true
			}
		}
		it.chunkI++
	}
	return false
}

func (it *MessageIterator) nextInternal() *types.Message {
	if it.sum == nil {
		return nil
	}
	for {
		if len(it.msgs) == 0 {
			if !it.prepareNextChunk() {
				return nil
			}
		}
		if it.pos >= len(it.msgs) {
			it.chunkI++
			if !it.prepareNextChunk() {
				return nil
			}
		}
		if it.pos < len(it.msgs) {
			m := it.msgs[it.pos]
			it.pos++
			return m
		}
	}
}

// HasNext reports whether another message is available, without consuming.
func (it *MessageIterator) HasNext() bool {
	if it.peeked == nil {
		it.peeked = it.nextInternal()
	}
	return it.peeked != nil
}

// Peek returns the next message without consuming it, or nil at the end.
func (it *MessageIterator) Peek() *types.Message {
	if it.peeked == nil {
		it.peeked = it.nextInternal()
	}
	return it.peeked
}

// Next consumes and returns the next message, or nil at the end.
func (it *MessageIterator) Next() *types.Message {
	if it.peeked == nil {
		it.peeked = it.nextInternal()
	}
	m := it.peeked
	it.peeked = nil
	if m != nil {
		it.index++
	}
	return m
}

// loadAndSeekAtOrAfter positions the iterator at the first buffered message
// with log time >= t in the chunk at chunkIndex, advancing to the next
// non-empty chunk if that chunk holds no such message.
func (it *MessageIterator) loadAndSeekAtOrAfter(chunkIndex int, t uint64) bool {
	it.reset()
	it.chunkI = chunkIndex
	if !it.prepareNextChunk() {
		return false
	}
	pos := sort.Search(len(it.msgs), func(i int) bool {
		return it.msgs[i].LogTime >= t
	})
	if pos < len(it.msgs) {
		it.pos = pos
		return true
	}
	it.chunkI++
	if !it.prepareNextChunk() {
		return false
	}
	it.pos = 0
	return len(it.msgs) > 0
}

// SeekToTime positions the iterator at the first message with log time >=
// t. Returns false when no such message exists or no summary is available.
func (it *MessageIterator) SeekToTime(t int64) bool {
	if it.sum == nil {
		return false
	}
	tu := clampTime(t)
	found := -1
	for i, ci := range it.sum.ChunkIndexes {
		if ci.MessageEndTime >= tu {
			found = i
			break
		}
	}
	if found < 0 {
		return false
	}
	return it.loadAndSeekAtOrAfter(found, tu)
}

// findNearestAtOrBefore locates the chunk and log time of the latest message
// with log time <= t, honoring the channel filter.
func (it *MessageIterator) findNearestAtOrBefore(t uint64) (int, uint64, bool) {
	bestChunk, bestTime, ok := -1, uint64(0), false
	filter := &msgFilter{end: t, hasEnd: true, channels: it.channelFilter()}
	for i, ci := range it.sum.ChunkIndexes {
		if ci.MessageStartTime > t {
			break
		}
		err := it.dec.StreamChunk(ci, func(m *types.Message) error {
			if filter.match(m) && (!ok || m.LogTime > bestTime) {
				bestChunk, bestTime, ok = i, m.LogTime, true
			}
			return nil
		})
		if err != nil {
			util.Error("iterator: scanning chunk %d failed: %v", i, err)
		}
	}
	return bestChunk, bestTime, ok
}

// SeekToTimeNearest positions at the first message with log time >= t; if
// none exists, at the latest message with log time <= t.
func (it *MessageIterator) SeekToTimeNearest(t int64) bool {
	if it.SeekToTime(t) {
		return true
	}
	if it.sum == nil {
		return false
	}
	chunkIndex, startTime, ok := it.findNearestAtOrBefore(clampTime(t))
	if !ok {
		return false
	}
	return it.loadAndSeekAtOrAfter(chunkIndex, startTime)
}

// SeekToNextOnChannel positions at the earliest message on the given
// channel with log time strictly after afterT.
func (it *MessageIterator) SeekToNextOnChannel(channelID uint16, afterT int64) bool {
	if it.sum == nil {
		return false
	}
	t := clampTime(afterT)
	filter := &msgFilter{start: t + 1, hasStart: true, channels: singleChannel(channelID)}
	for i, ci := range it.sum.ChunkIndexes {
		if ci.MessageEndTime <= t {
			continue
		}
		bestTime, ok := uint64(0), false
		err := it.dec.StreamChunk(ci, func(m *types.Message) error {
			if filter.match(m) && (!ok || m.LogTime < bestTime) {
				bestTime, ok = m.LogTime, true
			}
			return nil
		})
		if err != nil {
			util.Error("iterator: scanning chunk %d failed: %v", i, err)
			continue
		}
		if ok {
			return it.loadAndSeekAtOrAfter(i, bestTime)
		}
	}
	return false
}

// GetMessageAtTime returns the message on the given channel with exactly
// the given log time, or nil. Uses the chunk's message index and a binary
// search; the chunk payload is decoded only for a hit.
func (it *MessageIterator) GetMessageAtTime(channelID uint16, t int64) *types.Message {
	if it.sum == nil {
		return nil
	}
	tu := clampTime(t)
	for _, ci := range it.sum.ChunkIndexes {
		if tu < ci.MessageStartTime || tu > ci.MessageEndTime {
			continue
		}
		indexes, err := it.dec.MessageIndexes(ci)
		if err != nil {
			util.Error("iterator: reading message indexes failed: %v", err)
			return nil
		}
		entries, ok := indexes[channelID]
		if !ok {
			continue
		}
		pos := sort.Search(len(entries), func(i int) bool {
			return entries[i].LogTime >= tu
		})
		if pos >= len(entries) || entries[pos].LogTime != tu {
			continue
		}
		msg, err := it.dec.SeekMessage(ci, entries[pos])
		if err != nil {
			util.Error("iterator: seek message failed: %v", err)
			return nil
		}
		return msg
	}
	return nil
}
