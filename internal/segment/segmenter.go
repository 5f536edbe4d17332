// Package segment groups a time-ordered stream of interaction records into
// bounded sessions. A session closes on temporal gap, application switch,
// or record-count cap, whichever triggers first.
package segment

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deskflow/internal/capture"
)

// Session is an ordered, bounded group of interaction records sharing
// temporal and application locality. Never mutated after creation.
type Session struct {
	ID        string
	AppName   string
	Records   []*capture.InteractionRecord
	StartTime string
	EndTime   string
}

// Segmenter buffers records and cuts session boundaries. Not safe for
// concurrent use; the capture stream has a single consumer.
type Segmenter struct {
	gap        time.Duration
	maxRecords int
	logger     *zap.Logger

	buffer  []*capture.InteractionRecord
	lastApp string
	haveApp bool
	lastTS  time.Time
	haveTS  bool
}

// NewSegmenter creates a segmenter with the given gap threshold and buffer
// cap.
func NewSegmenter(gap time.Duration, maxRecords int, logger *zap.Logger) *Segmenter {
	if maxRecords <= 0 {
		maxRecords = 100
	}
	return &Segmenter{gap: gap, maxRecords: maxRecords, logger: logger}
}

// Add feeds one record to the segmenter. When the record triggers a session
// boundary, the buffered records (excluding the triggering record, which
// seeds the next buffer) are returned as a closed session.
func (s *Segmenter) Add(record *capture.InteractionRecord) (*Session, bool) {
	currentApp := record.App.Name
	ts, tsOK := record.Time()
	if !tsOK && record.Timestamp != "" {
		// A bad timestamp only disables the gap check for this record.
		s.logger.Warn("Unparseable record timestamp",
			zap.String("timestamp", record.Timestamp),
			zap.String("source", record.SourcePath))
	}

	var closed *Session
	if len(s.buffer) > 0 {
		split := false

		if tsOK && s.haveTS && ts.Sub(s.lastTS) >= s.gap {
			split = true
		}
		if s.haveApp && currentApp != s.lastApp {
			split = true
		}
		if len(s.buffer) >= s.maxRecords {
			split = true
		}

		if split {
			closed = s.build(s.buffer)
			s.buffer = nil
		}
	}

	s.buffer = append(s.buffer, record)
	s.lastApp = currentApp
	s.haveApp = true
	if tsOK {
		s.lastTS = ts
		s.haveTS = true
	}

	if closed != nil {
		return closed, true
	}
	return nil, false
}

// Flush packages any buffered records unconditionally and resets all
// internal state, so the segmenter can be reused for a new stream.
func (s *Segmenter) Flush() (*Session, bool) {
	if len(s.buffer) == 0 {
		s.reset()
		return nil, false
	}
	session := s.build(s.buffer)
	s.reset()
	return session, true
}

func (s *Segmenter) reset() {
	s.buffer = nil
	s.lastApp = ""
	s.haveApp = false
	s.lastTS = time.Time{}
	s.haveTS = false
}

func (s *Segmenter) build(records []*capture.InteractionRecord) *Session {
	session := &Session{
		ID:        uuid.NewString(),
		AppName:   records[0].App.Name,
		Records:   append([]*capture.InteractionRecord(nil), records...),
		StartTime: records[0].Timestamp,
		EndTime:   records[len(records)-1].Timestamp,
	}
	s.logger.Debug("Session closed",
		zap.String("session", session.ID),
		zap.String("app", session.AppName),
		zap.Int("records", len(session.Records)))
	return session
}

// SegmentAll runs a fresh pass over an already-ordered record slice and
// returns every session including the final flush.
func SegmentAll(records []*capture.InteractionRecord, gap time.Duration, maxRecords int, logger *zap.Logger) []*Session {
	seg := NewSegmenter(gap, maxRecords, logger)
	var sessions []*Session
	for _, r := range records {
		if session, ok := seg.Add(r); ok {
			sessions = append(sessions, session)
		}
	}
	if session, ok := seg.Flush(); ok {
		sessions = append(sessions, session)
	}
	return sessions
}
