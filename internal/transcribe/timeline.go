package transcribe

import (
	"math"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const epsilon = 1e-6

// Chunk is one raw provider segment before timeline placement.
// Timestamp is accepted in seconds or milliseconds; anything above
// 1e11 is already milliseconds.
type Chunk struct {
	ID              string   `json:"id,omitempty"`
	Text            string   `json:"text"`
	Speaker         string   `json:"speaker,omitempty"`
	SegmentIndex    *int     `json:"segment_index,omitempty"`
	Timestamp       *float64 `json:"timestamp,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

// Segment is a chunk placed on the message timeline.
type Segment struct {
	ID      string  `json:"id"`
	Speaker string  `json:"speaker,omitempty"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Timeline is the reconstruction result.
type Timeline struct {
	Segments               []Segment
	FirstChunkTimestampMS  *float64
	DerivedDurationSeconds float64
}

// ToTimestampMS normalizes a numeric timestamp to milliseconds.
func ToTimestampMS(value float64) float64 {
	if value > 1e11 {
		return value
	}
	return value * 1000
}

type orderedChunk struct {
	chunk         Chunk
	originalIndex int
	segmentIndex  int
	timestampMS   *float64
}

func orderChunks(chunks []Chunk) []orderedChunk {
	ordered := make([]orderedChunk, 0, len(chunks))
	for i, chunk := range chunks {
		idx := i
		if chunk.SegmentIndex != nil {
			idx = *chunk.SegmentIndex
		}
		var ts *float64
		if chunk.Timestamp != nil && !math.IsNaN(*chunk.Timestamp) && !math.IsInf(*chunk.Timestamp, 0) {
			ms := ToTimestampMS(*chunk.Timestamp)
			ts = &ms
		}
		ordered = append(ordered, orderedChunk{
			chunk:         chunk,
			originalIndex: i,
			segmentIndex:  idx,
			timestampMS:   ts,
		})
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.segmentIndex != b.segmentIndex {
			return a.segmentIndex < b.segmentIndex
		}
		if a.timestampMS != nil && b.timestampMS != nil && *a.timestampMS != *b.timestampMS {
			return *a.timestampMS < *b.timestampMS
		}
		return a.originalIndex < b.originalIndex
	})
	return ordered
}

// ResolveDurationSeconds picks the message duration: the explicit
// message value, then upload metadata, then the sum of chunk
// durations, then the timestamp spread plus the tail chunk's length.
// Returns nil when nothing usable exists.
func ResolveDurationSeconds(messageDuration, metadataDuration *float64, chunks []Chunk) *float64 {
	if v := positive(messageDuration); v != nil {
		return v
	}
	if v := positive(metadataDuration); v != nil {
		return v
	}

	ordered := orderChunks(chunks)
	if len(ordered) == 0 {
		return nil
	}

	var sum float64
	for _, entry := range ordered {
		if v := positive(entry.chunk.DurationSeconds); v != nil {
			sum += *v
		}
	}
	if sum > 0 {
		return &sum
	}

	var first, last *orderedChunk
	for i := range ordered {
		if ordered[i].timestampMS == nil {
			continue
		}
		if first == nil {
			first = &ordered[i]
		}
		last = &ordered[i]
	}
	if first != nil && last != nil && *last.timestampMS >= *first.timestampMS {
		estimate := (*last.timestampMS - *first.timestampMS) / 1000
		if v := positive(last.chunk.DurationSeconds); v != nil {
			estimate += *v
		}
		if estimate > 0 {
			return &estimate
		}
	}
	return nil
}

// BuildTimeline orders chunks and places each on the timeline. Starts
// come from timestamp deltas against the first chunk's timestamp and
// are clamped non-decreasing; a missing duration falls back to the gap
// to the next start, then to the remainder of the message duration for
// the final chunk, then to zero.
func BuildTimeline(chunks []Chunk, messageDurationSeconds *float64, fallbackTimestampMS *float64) Timeline {
	ordered := orderChunks(chunks)
	if len(ordered) == 0 {
		return Timeline{FirstChunkTimestampMS: fallbackTimestampMS}
	}

	baseline := ordered[0].timestampMS
	if baseline == nil {
		baseline = fallbackTimestampMS
	}

	type draft struct {
		segment  Segment
		start    *float64
		duration *float64
	}
	drafts := make([]draft, len(ordered))
	for i, entry := range ordered {
		id := entry.chunk.ID
		if id == "" {
			id = "ch_" + primitive.NewObjectID().Hex()
		}
		var start *float64
		if baseline != nil && entry.timestampMS != nil {
			s := math.Max(0, (*entry.timestampMS-*baseline)/1000)
			start = &s
		}
		drafts[i] = draft{
			segment: Segment{
				ID:      id,
				Speaker: entry.chunk.Speaker,
				Text:    entry.chunk.Text,
			},
			start:    start,
			duration: positive(entry.chunk.DurationSeconds),
		}
	}

	previousEnd := 0.0
	for i := range drafts {
		current := &drafts[i]
		if current.start == nil {
			start := previousEnd
			current.start = &start
		}
		if *current.start < previousEnd-epsilon {
			*current.start = previousEnd
		}

		duration := 0.0
		switch {
		case current.duration != nil:
			duration = *current.duration
		case i+1 < len(drafts) && drafts[i+1].start != nil:
			if delta := *drafts[i+1].start - *current.start; delta > epsilon {
				duration = delta
			}
		case i+1 == len(drafts) && messageDurationSeconds != nil:
			if remain := *messageDurationSeconds - *current.start; remain > epsilon {
				duration = remain
			}
		}

		current.segment.Start = *current.start
		current.segment.End = *current.start + duration
		previousEnd = current.segment.End
	}

	out := Timeline{FirstChunkTimestampMS: baseline}
	for _, d := range drafts {
		out.Segments = append(out.Segments, d.segment)
		if d.segment.End > out.DerivedDurationSeconds {
			out.DerivedDurationSeconds = d.segment.End
		}
	}
	return out
}

func positive(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v <= 0 {
		return nil
	}
	out := *v
	return &out
}
