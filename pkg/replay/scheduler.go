// Package replay drives real-time playback of a capture log: a tick-driven
// scheduler maps wall-clock time onto log time at a configurable speed and
// hands due messages to a caller-supplied handler.
package replay

import (
	"time"

	"github.com/google/uuid"

	"github.com/capstream-io/capstream/pkg/metrics"
	"github.com/capstream-io/capstream/pkg/reader"
	"github.com/capstream-io/capstream/pkg/types"
	"github.com/capstream-io/capstream/util"
)

// Handler receives each replayed message when its log time comes due.
type Handler func(*types.Message)

// Scheduler replays a log against the wall clock. It is driven externally:
// the owner calls Tick at its own cadence and the scheduler emits every
// message whose scaled log time has passed since the previous tick.
//
// Emission is two-phase per tick: all due messages are queued first, then
// the handler runs. A handler may therefore call back into the scheduler
// (stop, seek, change speed) without corrupting the drain in progress.
type Scheduler struct {
	rdr     *reader.Reader
	it      *reader.MessageIterator
	handler Handler
	now     func() time.Time
	session string

	speed   float64
	looping bool
	// replay window in microseconds, negative means unbounded
	timeStart int64
	timeEnd   int64
	// channel filter; one entry is pushed down to the iterator, more are
	// applied lazily at emission time
	filterChannels map[uint16]struct{}

	running   bool
	startWall time.Time
	startLog  int64
	queue     []*types.Message
}

// NewScheduler builds an idle scheduler. handler may be nil; due messages
// are then consumed and dropped.
func NewScheduler(handler Handler) *Scheduler {
	return &Scheduler{
		handler:   handler,
		now:       time.Now,
		session:   uuid.NewString(),
		speed:     1.0,
		timeStart: -1,
		timeEnd:   -1,
	}
}

// SetClock replaces the wall-clock source. Intended for tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// SetHandler replaces the message handler.
func (s *Scheduler) SetHandler(handler Handler) {
	s.handler = handler
}

// SetReader attaches the log to replay. Stops any playback in progress.
func (s *Scheduler) SetReader(r *reader.Reader) {
	s.Stop()
	s.rdr = r
	s.it = nil
}

// ClearReader detaches the current log and stops playback.
func (s *Scheduler) ClearReader() {
	s.Stop()
	s.rdr = nil
	s.it = nil
}

// SetSpeed sets the playback rate. Non-positive values reset to real time.
// Changing speed while running re-anchors so playback continues smoothly
// from the current position.
func (s *Scheduler) SetSpeed(speed float64) {
	if speed <= 0 {
		util.Warn("replay %s: speed %v is not positive, using 1.0", s.session, speed)
		speed = 1.0
	}
	if s.running {
		s.anchorAt(s.CurrentTime())
	}
	s.speed = speed
}

// Speed returns the playback rate.
func (s *Scheduler) Speed() float64 {
	return s.speed
}

// SetLooping controls whether playback restarts from the window start after
// draining the log.
func (s *Scheduler) SetLooping(loop bool) {
	s.looping = loop
}

// SetTimeRange restricts playback to start..end microseconds of log time.
// Negative bounds mean unbounded. Takes effect on the next Start.
func (s *Scheduler) SetTimeRange(startUsec, endUsec int64) {
	s.timeStart = startUsec
	s.timeEnd = endUsec
}

// SetFilterChannels restricts playback to the given channel ids. A single
// id is pushed down to the iterator so skipped chunks are never decoded;
// larger sets are filtered at emission time. While running, the iterator is
// rebuilt and playback resumes at the current position.
func (s *Scheduler) SetFilterChannels(channelIDs []uint16) {
	set := make(map[uint16]struct{}, len(channelIDs))
	for _, id := range channelIDs {
		set[id] = struct{}{}
	}
	s.filterChannels = set
	s.reapplyFilter()
}

// ClearFilterChannels removes the channel restriction.
func (s *Scheduler) ClearFilterChannels() {
	s.filterChannels = nil
	s.reapplyFilter()
}

func (s *Scheduler) reapplyFilter() {
	if s.it == nil {
		return
	}
	s.configureIterator()
	if s.running {
		pos := s.CurrentTime()
		if !s.it.SeekToTime(pos) {
			util.Info("replay %s: no messages past %dus after filter change", s.session, pos)
		}
		s.anchorAt(pos)
	}
}

func (s *Scheduler) configureIterator() {
	if len(s.filterChannels) == 1 {
		for id := range s.filterChannels {
			s.it.ForChannel(id)
		}
		return
	}
	s.it.ClearFilter()
}

// emitMatch applies the lazy multi-channel filter.
func (s *Scheduler) emitMatch(m *types.Message) bool {
	if len(s.filterChannels) <= 1 {
		return true
	}
	_, ok := s.filterChannels[m.Channel.ID]
	return ok
}

func (s *Scheduler) anchorAt(logUsec int64) {
	s.startWall = s.now()
	s.startLog = logUsec
}

// startLimit returns the first log time of the playback window.
func (s *Scheduler) startLimit() int64 {
	if s.timeStart >= 0 {
		return s.timeStart
	}
	return s.rdr.FirstMessageTime()
}

// endLimit returns the last log time of the playback window, or -1 when
// unknown.
func (s *Scheduler) endLimit() int64 {
	last := s.rdr.LastMessageTime()
	if s.timeEnd >= 0 && (last < 0 || s.timeEnd < last) {
		return s.timeEnd
	}
	return last
}

// Start begins playback at the window start. Fails closed when no reader is
// attached or the log carries no index.
func (s *Scheduler) Start() bool {
	if s.rdr == nil {
		util.Error("replay %s: no reader attached", s.session)
		return false
	}
	if !s.rdr.HasSummary() {
		util.Error("replay %s: log %s has no summary, cannot replay", s.session, s.rdr.Path())
		return false
	}
	start := s.startLimit()
	if start < 0 {
		util.Error("replay %s: log %s has no messages", s.session, s.rdr.Path())
		return false
	}
	s.it = s.rdr.StreamIterator()
	s.configureIterator()
	if !s.it.SeekToTime(start) {
		util.Error("replay %s: no messages at or after %dus", s.session, start)
		s.it = nil
		return false
	}
	s.anchorAt(start)
	s.running = true
	s.queue = s.queue[:0]
	util.Info("replay %s: started at %dus speed %.2f", s.session, start, s.speed)
	return true
}

// Stop halts playback, dropping the iterator and the clock anchors.
// CurrentTime returns -1 afterwards; a later Start begins at the window
// start again.
func (s *Scheduler) Stop() {
	if s.running {
		util.Info("replay %s: stopped at %dus", s.session, s.CurrentTime())
	}
	s.running = false
	s.it = nil
	s.startWall = time.Time{}
	s.startLog = 0
	s.queue = s.queue[:0]
}

// IsRunning reports whether playback is active.
func (s *Scheduler) IsRunning() bool {
	return s.running
}

// SeekToTime jumps playback to the given log time. While running, the clock
// re-anchors so playback continues from there in real time.
func (s *Scheduler) SeekToTime(logUsec int64) bool {
	if s.it == nil {
		return false
	}
	if !s.it.SeekToTime(logUsec) && !s.it.SeekToTimeNearest(logUsec) {
		return false
	}
	s.anchorAt(logUsec)
	return true
}

// CurrentTime returns the playback position in log microseconds, clamped to
// the window end, or -1 when playback has never been anchored.
func (s *Scheduler) CurrentTime() int64 {
	if s.startWall.IsZero() {
		return -1
	}
	elapsedUsec := s.now().Sub(s.startWall).Microseconds()
	pos := s.startLog + int64(float64(elapsedUsec)*s.speed)
	if end := s.endLimit(); end >= 0 && pos > end {
		return end
	}
	return pos
}

// Tick advances playback to the current wall-clock time and emits every
// message that came due since the previous tick, in log-time order. Returns
// the number of messages handed to the handler.
func (s *Scheduler) Tick() int {
	if !s.running || s.it == nil {
		return 0
	}
	metrics.ReplayTicks.Inc()
	target := s.CurrentTime()
	end := s.endLimit()

	for {
		m := s.it.Peek()
		if m == nil {
			break
		}
		if int64(m.LogTime) > target {
			break
		}
		if end >= 0 && int64(m.LogTime) > end {
			break
		}
		s.it.Next()
		if s.emitMatch(m) {
			s.queue = append(s.queue, m)
		}
	}

	emitted := len(s.queue)
	for _, m := range s.queue {
		if s.handler != nil {
			s.handler(m)
		}
	}
	s.queue = s.queue[:0]
	metrics.ReplayEmitted.Add(float64(emitted))

	// a handler may have stopped or repositioned playback
	if !s.running {
		return emitted
	}
	next := s.it.Peek()
	drained := next == nil || (end >= 0 && int64(next.LogTime) > end)
	if drained && (end < 0 || target >= end) {
		if s.looping {
			start := s.startLimit()
			if s.it.SeekToTime(start) {
				s.anchorAt(start)
				util.Info("replay %s: looped back to %dus", s.session, start)
			} else {
				s.running = false
			}
		} else {
			util.Info("replay %s: finished at %dus", s.session, target)
			s.running = false
		}
	}
	return emitted
}
