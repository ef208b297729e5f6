package reader

import "github.com/capstream-io/capstream/pkg/types"

// msgFilter is the reusable time-range and channel-set predicate applied
// while decoding chunks. A nil channel set accepts all channels.
type msgFilter struct {
	start    uint64
	end      uint64
	hasStart bool
	hasEnd   bool
	channels map[uint16]struct{}
}

func (f *msgFilter) matchTime(t uint64) bool {
	if f.hasStart && t < f.start {
		return false
	}
	if f.hasEnd && t > f.end {
		return false
	}
	return true
}

func (f *msgFilter) matchChannel(id uint16) bool {
	if f.channels == nil {
		return true
	}
	_, ok := f.channels[id]
	return ok
}

func (f *msgFilter) match(m *types.Message) bool {
	return f.matchTime(m.LogTime) && f.matchChannel(m.Channel.ID)
}

// chunkMightMatch prunes chunks whose index time range cannot intersect the
// filter window.
func (f *msgFilter) chunkMightMatch(ci *types.ChunkIndex) bool {
	if f.hasStart && ci.MessageEndTime < f.start {
		return false
	}
	if f.hasEnd && ci.MessageStartTime > f.end {
		return false
	}
	return true
}

func singleChannel(id uint16) map[uint16]struct{} {
	return map[uint16]struct{}{id: {}}
}

// clampTime maps a boundary microsecond value to the internal unsigned
// representation; negative means zero here (callers handle "unbounded").
func clampTime(t int64) uint64 {
	if t < 0 {
		return 0
	}
	return uint64(t)
}
