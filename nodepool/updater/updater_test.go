package updater

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodesync/internal/shared/metrics"
	"nodesync/nodepool/fetcher"
	"nodesync/nodepool/model"
	"nodesync/nodepool/storage"
)

const (
	uuidA1 = "11111111-1111-1111-1111-111111111111"
	uuidA2 = "22222222-2222-2222-2222-222222222222"
	uuidB  = "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
	srcURL = "https://sub.example/feed"
)

// eventLog records fetches and waits in the order they happen.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// fakeClock resolves every After immediately and logs it.
type fakeClock struct {
	*clock.Mock
	log *eventLog
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.log.add("wait:" + d.String())
	ch := make(chan time.Time, 1)
	ch <- c.Mock.Now()
	return ch
}

type response struct {
	body string
	err  error
}

// scriptedFetcher returns canned responses in order; it repeats the last one.
type scriptedFetcher struct {
	log       *eventLog
	responses []response
	calls     int
	panicOn   int
}

func (f *scriptedFetcher) Name() string { return "scripted" }

func (f *scriptedFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.calls++
	f.log.add("fetch")
	if f.panicOn == f.calls {
		panic("boom")
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx].body, f.responses[idx].err
}

type recordingObserver struct {
	started  chan Result
	finished chan Result
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{started: make(chan Result, 8), finished: make(chan Result, 8)}
}

func (o *recordingObserver) OnRunStarted(r Result)  { o.started <- r }
func (o *recordingObserver) OnRunFinished(r Result) { o.finished <- r }

func link(uuid, sni string) string {
	return "vless://" + uuid + "@1.2.3.4:443?encryption=none&security=tls&sni=" + sni + "&type=ws#" + sni
}

type harness struct {
	log     *eventLog
	clock   *fakeClock
	fetcher *scriptedFetcher
	store   *storage.MemoryStore
	metrics *metrics.Metrics
}

func newHarness(responses ...response) *harness {
	log := &eventLog{}
	return &harness{
		log:     log,
		clock:   &fakeClock{Mock: clock.NewMock(), log: log},
		fetcher: &scriptedFetcher{log: log, responses: responses},
		store:   storage.NewMemoryStore(),
		metrics: metrics.New(),
	}
}

func (h *harness) updater(run RunConfig) *Updater {
	return New(Options{
		Run:     run,
		Store:   h.store,
		Fetcher: h.fetcher,
		Clock:   h.clock,
		Metrics: h.metrics,
	})
}

func TestRun_AttemptsAndWaits(t *testing.T) {
	for n := 1; n <= 4; n++ {
		h := newHarness(response{body: link(uuidA1, "a.com")})
		res, err := h.updater(RunConfig{SourceURL: srcURL, FetchCount: n}).Run(context.Background(), TriggerManual)
		require.NoError(t, err)

		var want []string
		for i := 0; i < n; i++ {
			want = append(want, "fetch")
			if i < n-1 {
				want = append(want, "wait:2s")
			}
		}
		assert.Equal(t, want, h.log.snapshot(), "fetch_count=%d", n)
		assert.Equal(t, n, res.Attempts)
		assert.Len(t, res.NewPerBatch, n)
	}
}

func TestRun_NonPositiveFetchCountDefaultsToOne(t *testing.T) {
	for _, n := range []int{0, -3} {
		h := newHarness(response{body: link(uuidA1, "a.com")})
		res, err := h.updater(RunConfig{SourceURL: srcURL, FetchCount: n}).Run(context.Background(), TriggerManual)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, 1, h.fetcher.calls)
	}
}

func TestRun_EndToEndTwoBatches(t *testing.T) {
	first := link(uuidA1, "a.com") + "\r\n" + link(uuidA2, "a.com") + "\r\n"
	second := "vless://short@h:443?sni=c.com\n" + link(uuidB, "b.com") + "\n"
	h := newHarness(
		response{body: base64.StdEncoding.EncodeToString([]byte(first))},
		response{body: second},
	)

	res, err := h.updater(RunConfig{SourceURL: srcURL, FetchCount: 2}).Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.True(t, res.Persisted)
	assert.Equal(t, []int{1, 1}, res.NewPerBatch)
	assert.Equal(t, 2, res.Nodes)

	raw, err := h.store.Get(context.Background(), DefaultListKey)
	require.NoError(t, err)
	var got []model.NodeEntry
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, []model.NodeEntry{
		{Host: "a.com", UUID: uuidA1},
		{Host: "b.com", UUID: uuidB},
	}, got)

	want := "[\n  {\n    \"host\": \"a.com\",\n    \"uuid\": \"" + uuidA1 + "\"\n  },\n" +
		"  {\n    \"host\": \"b.com\",\n    \"uuid\": \"" + uuidB + "\"\n  }\n]"
	assert.Equal(t, want, raw)

	idx, err := h.store.Get(context.Background(), DefaultIndexKey)
	require.NoError(t, err)
	assert.Equal(t, "0", idx)
	assert.Equal(t, []string{DefaultListKey, DefaultIndexKey}, h.store.Writes())
}

func TestRun_FirstSeenWinsAcrossBatches(t *testing.T) {
	h := newHarness(
		response{body: link(uuidA1, "a.com")},
		response{body: link(uuidA2, "a.com") + "\n" + link(uuidB, "b.com")},
	)

	_, err := h.updater(RunConfig{SourceURL: srcURL, FetchCount: 2}).Run(context.Background(), TriggerManual)
	require.NoError(t, err)

	raw, _ := h.store.Get(context.Background(), DefaultListKey)
	assert.Contains(t, raw, uuidA1)
	assert.NotContains(t, raw, uuidA2)
}

func TestRun_EmptyResultWritesNothing(t *testing.T) {
	h := newHarness(response{body: "nothing useful\nvless://too-short?sni=a.com"})
	require.NoError(t, h.store.Put(context.Background(), DefaultListKey, "previous"))

	res, err := h.updater(RunConfig{SourceURL: srcURL, FetchCount: 3}).Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.False(t, res.Persisted)
	assert.Equal(t, 0, res.Nodes)

	assert.Equal(t, []string{DefaultListKey}, h.store.Writes())
	raw, _ := h.store.Get(context.Background(), DefaultListKey)
	assert.Equal(t, "previous", raw)
	_, err = h.store.Get(context.Background(), DefaultIndexKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRun_FailedAttemptsAreSkipped(t *testing.T) {
	h := newHarness(
		response{err: &fetcher.StatusError{StatusCode: 502, URL: srcURL}},
		response{err: errors.New("connection reset")},
		response{body: link(uuidB, "b.com")},
	)

	res, err := h.updater(RunConfig{SourceURL: srcURL, FetchCount: 3}).Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 2, res.FailedAttempts)
	assert.True(t, res.Persisted)
	assert.Equal(t, []string{"fetch", "wait:2s", "fetch", "wait:2s", "fetch"}, h.log.snapshot())
}

func TestRun_ConfigErrorsAbortBeforeIO(t *testing.T) {
	h := newHarness(response{body: link(uuidA1, "a.com")})

	_, err := h.updater(RunConfig{FetchCount: 2}).Run(context.Background(), TriggerManual)
	assert.ErrorIs(t, err, ErrMissingSourceURL)

	u := New(Options{Run: RunConfig{SourceURL: srcURL}, Fetcher: h.fetcher, Clock: h.clock})
	_, err = u.Run(context.Background(), TriggerManual)
	assert.ErrorIs(t, err, ErrMissingStore)

	assert.Zero(t, h.fetcher.calls)
	assert.Empty(t, h.store.Writes())
}

func TestRun_PanicIsRecovered(t *testing.T) {
	h := newHarness(response{body: link(uuidA1, "a.com")})
	h.fetcher.panicOn = 1
	u := h.updater(RunConfig{SourceURL: srcURL, FetchCount: 2})

	var res Result
	var err error
	require.NotPanics(t, func() {
		res, err = u.Run(context.Background(), TriggerManual)
	})
	require.Error(t, err)
	assert.Contains(t, res.Error, "boom")

	last, ok := u.LastResult()
	require.True(t, ok)
	assert.Equal(t, res.RunID, last.RunID)
	assert.Empty(t, h.store.Writes())
}

func TestRun_CustomKeysAndInterval(t *testing.T) {
	h := newHarness(response{body: link(uuidA1, "a.com")})
	u := New(Options{
		Run:           RunConfig{SourceURL: srcURL, FetchCount: 2},
		Store:         h.store,
		Fetcher:       h.fetcher,
		Clock:         h.clock,
		FetchInterval: 500 * time.Millisecond,
		ListKey:       "LIST",
		IndexKey:      "IDX",
	})

	_, err := u.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch", "wait:500ms", "fetch"}, h.log.snapshot())
	assert.Equal(t, []string{"LIST", "IDX"}, h.store.Writes())
}

func TestTrigger_RunsInBackground(t *testing.T) {
	h := newHarness(response{body: link(uuidA1, "a.com")})
	obs := newRecordingObserver()
	u := New(Options{
		Run:      RunConfig{SourceURL: srcURL, FetchCount: 1},
		Store:    h.store,
		Fetcher:  h.fetcher,
		Clock:    h.clock,
		Observer: obs,
	})

	runID := u.Trigger(TriggerManual)
	require.NotEmpty(t, runID)
	u.Wait()

	started := <-obs.started
	finished := <-obs.finished
	assert.Equal(t, runID, started.RunID)
	assert.Equal(t, runID, finished.RunID)
	assert.Equal(t, TriggerManual, finished.Trigger)
	assert.True(t, finished.Persisted)

	last, ok := u.LastResult()
	require.True(t, ok)
	assert.Equal(t, runID, last.RunID)
}

func TestScheduler_TriggersOnTick(t *testing.T) {
	h := newHarness(response{body: link(uuidA1, "a.com")})
	obs := newRecordingObserver()
	u := New(Options{
		Run:      RunConfig{SourceURL: srcURL, FetchCount: 1},
		Store:    h.store,
		Fetcher:  h.fetcher,
		Clock:    h.clock,
		Observer: obs,
		Schedule: time.Hour,
	})
	u.Start()
	h.clock.Add(time.Hour)

	select {
	case r := <-obs.finished:
		assert.Equal(t, TriggerSchedule, r.Trigger)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run did not finish")
	}
	u.Stop()
	u.Stop()
}

func TestScheduler_DisabledWithoutInterval(t *testing.T) {
	h := newHarness()
	u := h.updater(RunConfig{SourceURL: srcURL})
	u.Start()
	h.clock.Add(24 * time.Hour)
	u.Stop()
	assert.Zero(t, h.fetcher.calls)
}

// failingStore fails writes to one key.
type failingStore struct {
	*storage.MemoryStore
	failKey string
}

func (s *failingStore) Put(ctx context.Context, key, value string) error {
	if key == s.failKey {
		return errors.New("disk full")
	}
	return s.MemoryStore.Put(ctx, key, value)
}

func TestPersist(t *testing.T) {
	ctx := context.Background()
	nodes := model.NewNodeMap()

	ok, err := Persist(ctx, storage.NewMemoryStore(), nodes, "L", "I")
	require.NoError(t, err)
	assert.False(t, ok)

	nodes.Add(model.NodeEntry{Host: "a.com", UUID: uuidA1})

	list := &failingStore{MemoryStore: storage.NewMemoryStore(), failKey: "L"}
	ok, err = Persist(ctx, list, nodes, "L", "I")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Empty(t, list.Writes())

	idx := &failingStore{MemoryStore: storage.NewMemoryStore(), failKey: "I"}
	ok, err = Persist(ctx, idx, nodes, "L", "I")
	require.Error(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"L"}, idx.Writes())
}

func TestMarshalNodeList_Empty(t *testing.T) {
	out, err := MarshalNodeList(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}
