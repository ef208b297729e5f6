package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ChunksDecoded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capstream_chunks_decoded_total",
		Help: "Total number of chunks decompressed and decoded",
	})

	MessagesDecoded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capstream_messages_decoded_total",
		Help: "Total number of messages decoded from chunks",
	})

	IndexReads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capstream_index_reads_total",
		Help: "Total number of message index blocks read",
	})

	DecodeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capstream_decode_failures_total",
		Help: "Total number of chunk or record decode failures",
	})

	OpenReaders = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "capstream_open_readers",
		Help: "Number of readers currently holding an open byte source",
	})

	ReplayTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capstream_replay_ticks_total",
		Help: "Total number of replay scheduler ticks processed",
	})

	ReplayEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capstream_replay_messages_emitted_total",
		Help: "Total number of messages emitted by replay schedulers",
	})
)
