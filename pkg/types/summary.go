package types

// Statistics is the optional global stats record from the summary section.
type Statistics struct {
	MessageCount         uint64
	SchemaCount          uint16
	ChannelCount         uint32
	AttachmentCount      uint32
	MetadataCount        uint32
	ChunkCount           uint32
	MessageStartTime     uint64
	MessageEndTime       uint64
	ChannelMessageCounts map[uint16]uint64
}

// Summary aggregates everything parsed from the trailing index section.
// It is parsed once per byte source, cached, and read-only thereafter.
type Summary struct {
	Stats             *Statistics
	Channels          map[uint16]*Channel
	Schemas           map[uint16]*Schema
	ChunkIndexes      []*ChunkIndex
	AttachmentIndexes []*AttachmentIndex
	MetadataIndexes   []*MetadataIndex
}

// SchemaForChannel resolves the schema referenced by a channel, or nil.
func (s *Summary) SchemaForChannel(channelID uint16) *Schema {
	ch, ok := s.Channels[channelID]
	if !ok || ch.SchemaID == 0 {
		return nil
	}
	return s.Schemas[ch.SchemaID]
}
