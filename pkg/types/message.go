package types

// Schema describes the payload format shared by one or more channels.
// Immutable once read.
type Schema struct {
	ID       uint16
	Name     string
	Encoding string
	Data     []byte
}

// Channel is a named stream of messages sharing an encoding and an optional
// schema. SchemaID 0 means no schema.
type Channel struct {
	ID              uint16
	SchemaID        uint16
	Topic           string
	MessageEncoding string
	Metadata        map[string]string
}

// Message is a single recorded event. Timestamps are microseconds from an
// arbitrary fixed epoch and are not guaranteed monotonic across channels.
type Message struct {
	Channel     *Channel
	Sequence    uint32
	LogTime     uint64
	PublishTime uint64
	Data        []byte
}

// MessageHeader carries the fixed-size part of a message record without its
// payload or resolved channel.
type MessageHeader struct {
	ChannelID   uint16
	Sequence    uint32
	LogTime     uint64
	PublishTime uint64
}

// RawMessage is a message header plus undecoded payload bytes.
type RawMessage struct {
	Header MessageHeader
	Data   []byte
}

// Attachment is an arbitrary named blob recorded alongside messages.
type Attachment struct {
	LogTime    uint64
	CreateTime uint64
	Name       string
	MediaType  string
	Data       []byte
}

// Metadata is a named set of string key/value pairs.
type Metadata struct {
	Name     string
	Metadata map[string]string
}
