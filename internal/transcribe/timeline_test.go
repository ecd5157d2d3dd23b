package transcribe

import (
	"math"
	"testing"
)

func fp(v float64) *float64 { return &v }

func ip(v int) *int { return &v }

func approx(t *testing.T, got, want float64, label string) {
	t.Helper()
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("%s = %v, want %v", label, got, want)
	}
}

func TestToTimestampMS(t *testing.T) {
	approx(t, ToTimestampMS(1700000000), 1700000000000, "seconds input")
	approx(t, ToTimestampMS(1700000000000), 1700000000000, "milliseconds input")
}

func TestBuildTimelineOrdersBySegmentIndex(t *testing.T) {
	chunks := []Chunk{
		{Text: "second", SegmentIndex: ip(1), DurationSeconds: fp(2)},
		{Text: "first", SegmentIndex: ip(0), DurationSeconds: fp(3)},
	}
	tl := BuildTimeline(chunks, nil, nil)
	if len(tl.Segments) != 2 {
		t.Fatalf("segments = %d", len(tl.Segments))
	}
	if tl.Segments[0].Text != "first" || tl.Segments[1].Text != "second" {
		t.Errorf("order: %q, %q", tl.Segments[0].Text, tl.Segments[1].Text)
	}
	approx(t, tl.Segments[0].Start, 0, "first start")
	approx(t, tl.Segments[0].End, 3, "first end")
	approx(t, tl.Segments[1].Start, 3, "second start")
	approx(t, tl.Segments[1].End, 5, "second end")
	approx(t, tl.DerivedDurationSeconds, 5, "derived duration")
}

func TestBuildTimelineTimestampDeltas(t *testing.T) {
	// timestamps in seconds, 4s apart; first chunk carries an explicit
	// duration, the middle one takes the gap to the next start, the
	// last takes the remainder of the message duration
	chunks := []Chunk{
		{Text: "a", Timestamp: fp(1700000000), DurationSeconds: fp(2)},
		{Text: "b", Timestamp: fp(1700000004)},
		{Text: "c", Timestamp: fp(1700000008)},
	}
	tl := BuildTimeline(chunks, fp(12), nil)

	approx(t, tl.Segments[0].Start, 0, "a start")
	approx(t, tl.Segments[0].End, 2, "a end")
	approx(t, tl.Segments[1].Start, 4, "b start")
	approx(t, tl.Segments[1].End, 8, "b end")
	approx(t, tl.Segments[2].Start, 8, "c start")
	approx(t, tl.Segments[2].End, 12, "c end")
	if tl.FirstChunkTimestampMS == nil {
		t.Fatal("baseline missing")
	}
	approx(t, *tl.FirstChunkTimestampMS, 1700000000000, "baseline")
}

func TestBuildTimelineClampsRegressions(t *testing.T) {
	// the second chunk's timestamp precedes the first; its start must
	// clamp to the previous end instead of going backwards
	chunks := []Chunk{
		{Text: "a", Timestamp: fp(1700000010), DurationSeconds: fp(5)},
		{Text: "b", Timestamp: fp(1700000002), DurationSeconds: fp(1)},
	}
	tl := BuildTimeline(chunks, nil, nil)
	approx(t, tl.Segments[0].Start, 0, "a start")
	approx(t, tl.Segments[0].End, 5, "a end")
	approx(t, tl.Segments[1].Start, 5, "b start clamped")
	approx(t, tl.Segments[1].End, 6, "b end")
}

func TestBuildTimelineMissingTimestampsChain(t *testing.T) {
	chunks := []Chunk{
		{Text: "a", DurationSeconds: fp(1.5)},
		{Text: "b", DurationSeconds: fp(2.5)},
		{Text: "c"},
	}
	tl := BuildTimeline(chunks, nil, nil)
	approx(t, tl.Segments[1].Start, 1.5, "b start chains from a end")
	approx(t, tl.Segments[2].Start, 4, "c start chains from b end")
	approx(t, tl.Segments[2].End, 4, "c has zero duration without any source")
}

func TestBuildTimelineEmpty(t *testing.T) {
	tl := BuildTimeline(nil, nil, fp(1234))
	if len(tl.Segments) != 0 {
		t.Errorf("segments = %d", len(tl.Segments))
	}
	if tl.FirstChunkTimestampMS == nil || *tl.FirstChunkTimestampMS != 1234 {
		t.Errorf("fallback baseline = %v", tl.FirstChunkTimestampMS)
	}
}

func TestResolveDurationSeconds(t *testing.T) {
	chunks := []Chunk{
		{DurationSeconds: fp(2)},
		{DurationSeconds: fp(3)},
	}

	if got := ResolveDurationSeconds(fp(10), nil, chunks); got == nil || *got != 10 {
		t.Errorf("message duration should win, got %v", got)
	}
	if got := ResolveDurationSeconds(nil, fp(7), chunks); got == nil || *got != 7 {
		t.Errorf("metadata duration second, got %v", got)
	}
	if got := ResolveDurationSeconds(nil, nil, chunks); got == nil || *got != 5 {
		t.Errorf("chunk duration sum third, got %v", got)
	}

	spread := []Chunk{
		{Timestamp: fp(1700000000)},
		{Timestamp: fp(1700000006), DurationSeconds: fp(0)},
	}
	if got := ResolveDurationSeconds(nil, nil, spread); got == nil || math.Abs(*got-6) > 1e-6 {
		t.Errorf("timestamp spread fourth, got %v", got)
	}

	if got := ResolveDurationSeconds(nil, nil, nil); got != nil {
		t.Errorf("no source should yield nil, got %v", got)
	}
}
