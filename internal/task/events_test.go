package task

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector gathers delivered events for assertions.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) add(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *collector) waitLen(t *testing.T, n int) []Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.snapshot()) >= n }, 2*time.Second, 5*time.Millisecond)
	return c.snapshot()
}

func ev(id string, kind Kind, typ EventType) Event {
	return Event{TaskID: id, Kind: kind, Type: typ, At: epoch}
}

func TestAggregator_RingBufferKeepsLastN(t *testing.T) {
	a := NewAggregator(3, testLogger())

	for _, typ := range []EventType{EventSubmitted, EventStarted, EventProgressed, EventProgressed, EventCompleted} {
		a.Publish(ev("t1", KindCrawlJob, typ))
	}

	recent := a.Recent(nil)
	require.Len(t, recent, 3)
	assert.Equal(t, []EventType{EventProgressed, EventProgressed, EventCompleted}, eventTypes(recent))
	assert.Equal(t, []uint64{3, 4, 5}, []uint64{recent[0].Seq, recent[1].Seq, recent[2].Seq})
}

func TestAggregator_PredicateFiltering(t *testing.T) {
	a := NewAggregator(16, testLogger())
	crawls := &collector{}
	terminal := &collector{}
	defer a.Subscribe(ForKind(KindCrawlJob), crawls.add)()
	defer a.Subscribe(Terminal, terminal.add)()

	a.Publish(ev("c1", KindCrawlJob, EventStarted))
	a.Publish(ev("u1", KindDocumentUpload, EventStarted))
	a.Publish(ev("u1", KindDocumentUpload, EventFailed))
	a.Publish(ev("c1", KindCrawlJob, EventCompleted))

	got := crawls.waitLen(t, 2)
	assert.Equal(t, []EventType{EventStarted, EventCompleted}, eventTypes(got))

	done := terminal.waitLen(t, 2)
	assert.Equal(t, "u1", done[0].TaskID)
	assert.Equal(t, "c1", done[1].TaskID)

	assert.Len(t, a.Recent(And(ForTask("u1"), OfType(EventFailed))), 1)
}

func TestAggregator_ReplayForLateSubscribers(t *testing.T) {
	a := NewAggregator(8, testLogger())
	a.Publish(ev("g1", KindKnowledgeGraphBuild, EventSubmitted))
	a.Publish(ev("s1", KindSessionDocument, EventSubmitted))
	a.Publish(ev("g1", KindKnowledgeGraphBuild, EventStarted))

	late := &collector{}
	defer a.Subscribe(ForTask("g1"), late.add, WithReplay())()
	a.Publish(ev("g1", KindKnowledgeGraphBuild, EventCompleted))

	got := late.waitLen(t, 3)
	assert.Equal(t, []EventType{EventSubmitted, EventStarted, EventCompleted}, eventTypes(got))

	fresh := &collector{}
	defer a.Subscribe(ForTask("g1"), fresh.add)()
	a.Publish(ev("g1", KindKnowledgeGraphBuild, EventDismissed))
	assert.Equal(t, []EventType{EventDismissed}, eventTypes(fresh.waitLen(t, 1)))
}

func TestAggregator_Unsubscribe(t *testing.T) {
	a := NewAggregator(8, testLogger())
	c := &collector{}
	unsubscribe := a.Subscribe(All, c.add)

	a.Publish(ev("t1", KindCrawlJob, EventStarted))
	c.waitLen(t, 1)

	unsubscribe()
	unsubscribe()
	a.Publish(ev("t1", KindCrawlJob, EventCompleted))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, c.snapshot(), 1)
}

func TestAggregator_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	a := NewAggregator(8, testLogger())
	release := make(chan struct{})
	slow := &collector{}
	defer a.Subscribe(All, func(e Event) {
		<-release
		slow.add(e)
	})()

	published := make(chan struct{})
	go func() {
		for range 100 {
			a.Publish(ev("t1", KindCrawlJob, EventProgressed))
		}
		close(published)
	}()

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	close(release)

	got := slow.waitLen(t, 100)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].Seq+1, got[i].Seq, "delivery preserves publish order")
	}
}

func TestAggregator_PanickingSubscriberIsIsolated(t *testing.T) {
	a := NewAggregator(8, testLogger())
	healthy := &collector{}
	defer a.Subscribe(All, func(Event) { panic("bad subscriber") })()
	defer a.Subscribe(All, healthy.add)()

	a.Publish(ev("t1", KindCrawlJob, EventStarted))
	a.Publish(ev("t1", KindCrawlJob, EventCompleted))
	assert.Len(t, healthy.waitLen(t, 2), 2)
}

func TestAggregator_CloseStopsDelivery(t *testing.T) {
	a := NewAggregator(8, testLogger())
	c := &collector{}
	a.Subscribe(All, c.add)
	a.Close()

	a.Publish(ev("t1", KindCrawlJob, EventStarted))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.snapshot())
	assert.Len(t, a.Recent(nil), 1)

	noop := a.Subscribe(All, c.add)
	noop()
}
