package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/capstream-io/capstream/pkg/config"
	"github.com/capstream-io/capstream/pkg/metrics"
	"github.com/capstream-io/capstream/pkg/reader"
	"github.com/capstream-io/capstream/pkg/replay"
	"github.com/capstream-io/capstream/pkg/types"
	"github.com/capstream-io/capstream/util"
)

var (
	flagConfig         string
	flagLogLevel       string
	flagIgnoreEndMagic bool
)

func main() {
	root := &cobra.Command{
		Use:   "capstream",
		Short: "Inspect and replay chunked capture logs",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagLogLevel != "" {
				util.SetLevel(util.ParseLogLevel(flagLogLevel))
			}
		},
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flagIgnoreEndMagic, "ignore-end-magic", false, "tolerate a truncated trailing magic")

	root.AddCommand(infoCmd(), topicsCmd(), messagesCmd(), countCmd(), replayCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openReader(path string) (*reader.Reader, error) {
	var opts []reader.Option
	if flagIgnoreEndMagic {
		opts = append(opts, reader.IgnoreEndMagic())
	}
	return reader.Open(path, opts...)
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <log>",
		Short: "Print summary statistics for a log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			fmt.Printf("log:      %s\n", r.Path())
			if !r.HasSummary() {
				fmt.Println("summary:  none (linear access only)")
				fmt.Printf("messages: %d (linear scan)\n", len(r.Messages()))
				return nil
			}
			sum := r.Summary()
			fmt.Printf("chunks:   %d\n", r.ChunkCount())
			fmt.Printf("channels: %d\n", len(sum.Channels))
			fmt.Printf("messages: %d\n", r.MessageCountTotal())
			first, last := r.FirstMessageTime(), r.LastMessageTime()
			if first >= 0 {
				fmt.Printf("range:    %dus .. %dus (%.3fs)\n", first, last,
					float64(r.Duration())/1e6)
			}
			for _, ci := range sum.ChunkIndexes {
				fmt.Printf("  chunk @%d  %dus..%dus  %s  %d -> %d bytes\n",
					ci.ChunkStartOffset, ci.MessageStartTime, ci.MessageEndTime,
					compressionLabel(ci.Compression), ci.CompressedSize, ci.UncompressedSize)
			}
			return nil
		},
	}
}

func compressionLabel(c string) string {
	if c == "" {
		return "uncompressed"
	}
	return c
}

func topicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topics <log>",
		Short: "List channels and topics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			for _, id := range r.ChannelIDs() {
				ch := r.Summary().Channels[id]
				count := r.MessageCountForChannel(id)
				schema := "-"
				if s := r.SchemaForChannel(id); s != nil {
					schema = s.Name
				}
				fmt.Printf("%4d  %-30s  %-20s  %d messages\n", id, ch.Topic, schema, count)
			}
			if e := r.LastError(); e != "" {
				return fmt.Errorf("%s", e)
			}
			return nil
		},
	}
}

func messagesCmd() *cobra.Command {
	var startUsec, endUsec int64
	var topic string
	var channel int

	cmd := &cobra.Command{
		Use:   "messages <log>",
		Short: "Print messages, optionally windowed and filtered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			var msgs []*types.Message
			switch {
			case topic != "":
				msgs = r.MessagesForTopic(topic, startUsec, endUsec)
			case channel >= 0:
				msgs = r.MessagesForChannel(uint16(channel), startUsec, endUsec)
			default:
				msgs = r.MessagesInTimeRange(startUsec, endUsec)
			}
			for _, m := range msgs {
				fmt.Printf("%12dus  ch=%d  topic=%s  seq=%d  %d bytes\n",
					m.LogTime, m.Channel.ID, m.Channel.Topic, m.Sequence, len(m.Data))
			}
			if e := r.LastError(); e != "" {
				return fmt.Errorf("%s", e)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&startUsec, "start", -1, "window start in microseconds (-1 unbounded)")
	cmd.Flags().Int64Var(&endUsec, "end", -1, "window end in microseconds (-1 unbounded)")
	cmd.Flags().StringVar(&topic, "topic", "", "only messages on this topic")
	cmd.Flags().IntVar(&channel, "channel", -1, "only messages on this channel id")
	return cmd
}

func countCmd() *cobra.Command {
	var startUsec, endUsec int64
	var channel int

	cmd := &cobra.Command{
		Use:   "count <log>",
		Short: "Count messages using indexes only",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			var n int64
			windowed := startUsec >= 0 || endUsec >= 0
			switch {
			case channel >= 0 && windowed:
				n = r.MessageCountForChannelInRange(uint16(channel), startUsec, endUsec)
			case channel >= 0:
				n = r.MessageCountForChannel(uint16(channel))
			case windowed:
				n = r.MessageCountInRange(startUsec, endUsec)
			default:
				n = r.MessageCountTotal()
			}
			if n < 0 {
				return fmt.Errorf("%s", r.LastError())
			}
			fmt.Println(n)
			return nil
		},
	}
	cmd.Flags().Int64Var(&startUsec, "start", -1, "window start in microseconds (-1 unbounded)")
	cmd.Flags().Int64Var(&endUsec, "end", -1, "window end in microseconds (-1 unbounded)")
	cmd.Flags().IntVar(&channel, "channel", -1, "only messages on this channel id")
	return cmd
}

func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [log]",
		Short: "Replay a log in real time, printing messages as they come due",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.LogPath = args[0]
			}
			if flagIgnoreEndMagic {
				cfg.IgnoreEndMagic = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			util.SetLevel(cfg.LogLevel)
			if flagLogLevel != "" {
				util.SetLevel(util.ParseLogLevel(flagLogLevel))
			}
			if cfg.EnableExporter {
				metrics.StartMetricsServer(cfg.ExporterPort)
			}
			return runReplay(cfg)
		},
	}
	return cmd
}

func runReplay(cfg *config.Config) error {
	var opts []reader.Option
	if cfg.IgnoreEndMagic {
		opts = append(opts, reader.IgnoreEndMagic())
	}
	r, err := reader.Open(cfg.LogPath, opts...)
	if err != nil {
		return err
	}
	defer r.Close()

	s := replay.NewScheduler(func(m *types.Message) {
		fmt.Printf("%12dus  ch=%d  topic=%s  %d bytes\n",
			m.LogTime, m.Channel.ID, m.Channel.Topic, len(m.Data))
	})
	s.SetReader(r)
	s.SetSpeed(cfg.Speed)
	s.SetLooping(cfg.Loop)
	s.SetTimeRange(cfg.StartUsec, cfg.EndUsec)

	channels := cfg.ChannelIDs()
	for _, topic := range cfg.Topics {
		id := r.TopicToChannelID(topic)
		if id < 0 {
			return fmt.Errorf("unknown topic %q", topic)
		}
		channels = append(channels, uint16(id))
	}
	if len(channels) > 0 {
		s.SetFilterChannels(channels)
	}

	if !s.Start() {
		return fmt.Errorf("replay could not start: %s", r.LastError())
	}
	ticker := time.NewTicker(time.Duration(cfg.TickMS) * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		s.Tick()
		if !s.IsRunning() {
			break
		}
	}
	return nil
}
