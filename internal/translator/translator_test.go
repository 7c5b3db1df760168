// ABOUTME: Tests for the delta translator state machine
// ABOUTME: Covers ordering, fallback replies, failures and faults after terminal states

package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomifer13/EndoBot/internal/upstream"
)

func fixedID(id string) Option {
	return WithIDFunc(func() string { return id })
}

func textDelta(s string) upstream.Delta {
	return upstream.Delta{Kind: upstream.DeltaText, Text: s}
}

// feed passes every delta through tr and returns all events in order.
func feed(t *testing.T, tr *Translator, deltas ...upstream.Delta) []Event {
	t.Helper()
	var out []Event
	for _, d := range deltas {
		events, err := tr.Handle(d)
		require.NoError(t, err)
		out = append(out, events...)
	}
	return out
}

func TestTranslator_StreamsDeltasInOrder(t *testing.T) {
	tr := New(fixedID("item-1"))

	events := feed(t, tr, textDelta("Hel"), textDelta("lo"), upstream.Delta{Kind: upstream.DeltaDone})

	assert.Equal(t, []Event{
		{Kind: EventMessageStarted, ItemID: "item-1"},
		{Kind: EventTextDelta, ItemID: "item-1", Text: "Hel"},
		{Kind: EventTextDelta, ItemID: "item-1", Text: "lo"},
		{Kind: EventMessageCompleted, ItemID: "item-1", Text: "Hello"},
	}, events)
	assert.Equal(t, StateCompleted, tr.State())
	assert.True(t, tr.Pending().Completed)
	assert.Equal(t, "Hello", tr.Pending().Text())
}

func TestTranslator_DoneWithoutTextUsesFallback(t *testing.T) {
	tr := New(fixedID("fb"))

	events := feed(t, tr, upstream.Delta{Kind: upstream.DeltaDone})

	require.Len(t, events, 2)
	assert.Equal(t, EventMessageStarted, events[0].Kind)
	assert.Equal(t, Event{Kind: EventMessageCompleted, ItemID: "fb", Text: DefaultFallbackText}, events[1])
}

func TestTranslator_CustomFallback(t *testing.T) {
	tr := New(WithFallbackText("try later"))

	events, err := tr.Finish()
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "try later", events[1].Text)
}

func TestTranslator_FinishActsAsDone(t *testing.T) {
	tr := New(fixedID("x"))
	feed(t, tr, textDelta("abc"))

	events, err := tr.Finish()
	require.NoError(t, err)

	assert.Equal(t, []Event{{Kind: EventMessageCompleted, ItemID: "x", Text: "abc"}}, events)
}

func TestTranslator_IgnoresHeartbeatAndMalformed(t *testing.T) {
	tr := New(fixedID("i"))

	events := feed(t, tr,
		upstream.Delta{Kind: upstream.DeltaHeartbeat},
		textDelta("A"),
		upstream.Delta{Kind: upstream.DeltaMalformed, Raw: "junk"},
		textDelta("B"),
		upstream.Delta{Kind: upstream.DeltaDone},
	)

	last := events[len(events)-1]
	assert.Equal(t, EventMessageCompleted, last.Kind)
	assert.Equal(t, "AB", last.Text)
	assert.Len(t, events, 4)
}

func TestTranslator_HeartbeatBeforeTextStaysIdle(t *testing.T) {
	tr := New()

	events := feed(t, tr, upstream.Delta{Kind: upstream.DeltaHeartbeat})

	assert.Empty(t, events)
	assert.Equal(t, StateIdle, tr.State())
	assert.Nil(t, tr.Pending())
}

func TestTranslator_EmptyTextEmitsNothing(t *testing.T) {
	tr := New()

	events := feed(t, tr, textDelta(""))

	assert.Empty(t, events)
	assert.Equal(t, StateIdle, tr.State())
}

func TestTranslator_FailAfterDelta(t *testing.T) {
	tr := New(fixedID("p"))
	events := feed(t, tr, textDelta("partial"))

	failed, err := tr.Fail(ErrorTransport, 0, "connection reset")
	require.NoError(t, err)
	events = append(events, failed...)

	kinds := make([]EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []EventKind{EventMessageStarted, EventTextDelta, EventStreamError}, kinds)
	assert.Equal(t, ErrorTransport, events[2].ErrKind)
	assert.Equal(t, "p", events[2].ItemID)
	assert.Equal(t, StateFailed, tr.State())
	assert.False(t, tr.Pending().Completed)
}

func TestTranslator_FailWhileIdle(t *testing.T) {
	tr := New()

	events, err := tr.Fail(ErrorStatus, 503, "unavailable")
	require.NoError(t, err)

	assert.Equal(t, []Event{{Kind: EventStreamError, ErrKind: ErrorStatus, Status: 503, Message: "unavailable"}}, events)
}

func TestTranslator_FaultAfterTerminal(t *testing.T) {
	tr := New()
	_, err := tr.Finish()
	require.NoError(t, err)

	_, err = tr.Handle(textDelta("late"))
	assert.ErrorIs(t, err, ErrFault)

	_, err = tr.Finish()
	assert.ErrorIs(t, err, ErrFault)

	_, err = tr.Fail(ErrorInternal, 0, "x")
	assert.ErrorIs(t, err, ErrFault)

	assert.Equal(t, StateCompleted, tr.State())
}

func TestTranslator_StrictPanics(t *testing.T) {
	tr := New(WithStrict(true))
	_, err := tr.Fail(ErrorTimeout, 0, "idle")
	require.NoError(t, err)

	assert.Panics(t, func() {
		_, _ = tr.Handle(textDelta("late"))
	})
}

func TestTranslator_GeneratesIDs(t *testing.T) {
	a := New()
	b := New()

	ea := feed(t, a, textDelta("x"))
	eb := feed(t, b, textDelta("x"))

	assert.NotEmpty(t, ea[0].ItemID)
	assert.NotEqual(t, ea[0].ItemID, eb[0].ItemID)
}
