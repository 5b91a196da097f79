package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/funnel/internal/models"
	"github.com/aura-webinar/funnel/pkg/response"
)

type fakeBackend struct {
	mu         sync.Mutex
	data       *SessionData
	sessionErr error
	messages   []models.WebinarMessage
	msgErr     error
	heartbeats []int
	onGet      func()
}

func (b *fakeBackend) GetSession(ctx context.Context, id uuid.UUID) (*SessionData, error) {
	if b.onGet != nil {
		b.onGet()
	}
	if b.sessionErr != nil {
		return nil, b.sessionErr
	}
	cp := *b.data
	return &cp, nil
}

func (b *fakeBackend) GetMessages(ctx context.Context, id uuid.UUID) ([]models.WebinarMessage, error) {
	return b.messages, b.msgErr
}

func (b *fakeBackend) UpdateWatchtime(ctx context.Context, id uuid.UUID, seconds int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.heartbeats = append(b.heartbeats, seconds)
	return nil
}

func (b *fakeBackend) beats() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.heartbeats...)
}

type fakePlayer struct {
	seeks   []int
	playErr error
}

func (p *fakePlayer) Seek(ctx context.Context, seconds int) error {
	p.seeks = append(p.seeks, seconds)
	return nil
}

func (p *fakePlayer) Play(ctx context.Context) error { return p.playErr }

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func newFixture(now time.Time, offer *models.WebinarOffer, msgs ...models.WebinarMessage) (*fakeBackend, *fakePlayer, *fakeClock) {
	b := &fakeBackend{
		data: &SessionData{
			Session: models.WebinarSession{ID: uuid.New(), StartDate: t0, UserName: "Ana"},
			Webinar: models.Webinar{ID: uuid.New(), Title: "Masterclass", DurationSeconds: 3600, Offer: offer},
		},
		messages: msgs,
	}
	return b, &fakePlayer{}, newFakeClock(now)
}

func newTestEngine(b *fakeBackend, p *fakePlayer, clk *fakeClock, override *int) *Engine {
	return NewEngine(uuid.New(), b, p, Options{
		Clock:       clk,
		Rand:        func() float64 { return 0.5 },
		Override:    override,
		ComeBackURL: "/come-back",
	})
}

func startedEngine(t *testing.T, b *fakeBackend, p *fakePlayer, clk *fakeClock) *Engine {
	t.Helper()
	e := newTestEngine(b, p, clk, nil)
	require.NoError(t, e.Load(context.Background()))
	require.Equal(t, PhaseAwaitingGesture, e.Snapshot().Phase)
	require.NoError(t, e.Start(context.Background()))
	require.Equal(t, PhasePlaying, e.Snapshot().Phase)
	return e
}

// play advances wall time and video time together in one-second steps.
func play(e *Engine, clk *fakeClock, from float64, seconds int) float64 {
	pos := from
	for i := 0; i < seconds; i++ {
		clk.Advance(time.Second)
		pos++
		e.TimeUpdate(pos)
	}
	return pos
}

func TestEngine_EndToEndScenario(t *testing.T) {
	offer := &models.WebinarOffer{Time: 1140, ButtonText: "Buy"}
	b, p, clk := newFixture(t0.Add(120*time.Second), offer,
		models.WebinarMessage{ID: uuid.New(), UserName: "Host", Message: "later", TimeSeconds: 1150},
	)
	e := startedEngine(t, b, p, clk)
	defer e.Close()

	assert.Equal(t, []int{120}, p.seeks)

	play(e, clk, 120, 18*60)
	v := e.Snapshot()
	assert.InDelta(t, 1200, v.CurrentTime, 1)
	require.Len(t, v.Transcript, 1)
	assert.Equal(t, "later", v.Transcript[0].Text)
	assert.True(t, v.Offer.IsActive)
	assert.Greater(t, v.Participants, 120)
	assert.Less(t, v.Participants, 150)
}

func TestEngine_NotStartedRedirects(t *testing.T) {
	b, p, clk := newFixture(t0.Add(-time.Minute), nil)
	e := newTestEngine(b, p, clk, nil)

	require.NoError(t, e.Load(context.Background()))
	v := e.Snapshot()
	assert.Equal(t, PhaseNotStarted, v.Phase)
	assert.Equal(t, "/come-back", v.Redirect)
	assert.ErrorIs(t, e.Start(context.Background()), ErrInvalidPhase)
}

func TestEngine_OverrideSkipsWindowChecks(t *testing.T) {
	b, p, clk := newFixture(t0.Add(-time.Hour), nil)
	at := 500
	e := newTestEngine(b, p, clk, &at)

	require.NoError(t, e.Load(context.Background()))
	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, []int{500}, p.seeks)
}

func TestEngine_ExpiredWindowAtLoad(t *testing.T) {
	b, p, clk := newFixture(t0.Add(2*time.Hour), nil)
	b.data.Session.WatchtimeSeconds = 100
	e := newTestEngine(b, p, clk, nil)

	require.NoError(t, e.Load(context.Background()))
	v := e.Snapshot()
	assert.Equal(t, PhaseExpired, v.Phase)
	assert.True(t, v.SessionExpired)
	assert.False(t, v.ShowFeedback)
	assert.Equal(t, NoticePickAnother, v.Notice)
	assert.Empty(t, p.seeks)
}

func TestEngine_LoadFailureIsTerminal(t *testing.T) {
	b, p, clk := newFixture(t0, nil)
	b.sessionErr = errors.New("boom")
	e := newTestEngine(b, p, clk, nil)

	require.Error(t, e.Load(context.Background()))
	v := e.Snapshot()
	assert.Equal(t, PhaseFailed, v.Phase)
	assert.Equal(t, NoticeLoadFailed, v.Notice)
}

func TestEngine_LoadFailureOffersSupportAndHome(t *testing.T) {
	b, p, clk := newFixture(t0, nil)
	b.sessionErr = errors.New("boom")
	e := NewEngine(uuid.New(), b, p, Options{
		Clock:   clk,
		HomeURL: "https://example.com",
		Support: response.Support{Email: "help@example.com", Phone: "+385 1 234 5678"},
	})

	require.Error(t, e.Load(context.Background()))
	v := e.Snapshot()
	assert.Equal(t, PhaseFailed, v.Phase)
	assert.Equal(t, "https://example.com", v.Redirect)
	require.NotNil(t, v.Support)
	assert.Equal(t, "help@example.com", v.Support.Email)
	assert.Equal(t, "+385 1 234 5678", v.Support.Phone)
}

func TestEngine_MessageFetchFailureIsNonFatal(t *testing.T) {
	b, p, clk := newFixture(t0.Add(10*time.Second), nil)
	b.msgErr = errors.New("timeout")
	e := newTestEngine(b, p, clk, nil)

	require.NoError(t, e.Load(context.Background()))
	v := e.Snapshot()
	assert.Equal(t, PhaseAwaitingGesture, v.Phase)
	assert.Empty(t, v.Transcript)
}

func TestEngine_StartFailures(t *testing.T) {
	b, p, clk := newFixture(t0.Add(10*time.Second), nil)
	e := newTestEngine(b, p, clk, nil)
	require.NoError(t, e.Load(context.Background()))

	p.playErr = ErrPlaybackNotAllowed
	require.ErrorIs(t, e.Start(context.Background()), ErrPlaybackNotAllowed)
	v := e.Snapshot()
	assert.Equal(t, PhaseAwaitingGesture, v.Phase)
	assert.Equal(t, NoticeClickAgain, v.Notice)

	p.playErr = errors.New("decode error")
	require.Error(t, e.Start(context.Background()))
	assert.Equal(t, NoticeRetry, e.Snapshot().Notice)

	p.playErr = nil
	require.NoError(t, e.Start(context.Background()))
	v = e.Snapshot()
	assert.Equal(t, PhasePlaying, v.Phase)
	assert.Empty(t, v.Notice)
}

func TestEngine_TimeCommitsAreDebounced(t *testing.T) {
	b, p, clk := newFixture(t0.Add(100*time.Second), nil)
	e := startedEngine(t, b, p, clk)
	defer e.Close()

	clk.Advance(300 * time.Millisecond)
	e.TimeUpdate(100.3)
	assert.Equal(t, 100.0, e.Snapshot().CurrentTime)

	clk.Advance(700 * time.Millisecond)
	e.TimeUpdate(101)
	assert.Equal(t, 101.0, e.Snapshot().CurrentTime)
}

func TestEngine_GraceThenExpire(t *testing.T) {
	b, p, clk := newFixture(t0.Add(3590*time.Second), nil)
	e := startedEngine(t, b, p, clk)
	defer e.Close()

	pos := play(e, clk, 3590, 9)
	assert.Equal(t, 3599.0, pos)
	assert.Equal(t, PhasePlaying, e.Snapshot().Phase)

	clk.Advance(time.Second)
	v := e.Snapshot()
	assert.Equal(t, PhaseExpired, v.Phase)
	assert.True(t, v.ShowFeedback)
	assert.Equal(t, 3600, b.beats()[len(b.beats())-1])
}

func TestEngine_EndedExpiresImmediately(t *testing.T) {
	b, p, clk := newFixture(t0.Add(60*time.Second), nil)
	e := startedEngine(t, b, p, clk)

	e.Ended()
	v := e.Snapshot()
	assert.Equal(t, PhaseExpired, v.Phase)
	assert.False(t, v.ShowFeedback)
	assert.Equal(t, NoticePickAnother, v.Notice)
	assert.Equal(t, []int{3600}, b.beats())
}

func TestEngine_HeartbeatsSkipWhilePaused(t *testing.T) {
	b, p, clk := newFixture(t0.Add(10*time.Second), nil)
	e := startedEngine(t, b, p, clk)
	defer e.Close()

	// The tick lands before the sample of the same second.
	play(e, clk, 10, 20)
	assert.Equal(t, []int{29}, b.beats())

	e.Pause()
	clk.Advance(20 * time.Second)
	assert.Equal(t, []int{29}, b.beats())

	e.Resume()
	play(e, clk, 30, 20)
	assert.Equal(t, []int{29, 49}, b.beats())
}

func TestEngine_CloseStopsTimersAndDropsLateResults(t *testing.T) {
	b, p, clk := newFixture(t0.Add(10*time.Second), nil)
	var e *Engine
	b.onGet = func() { e.Close() }
	e = newTestEngine(b, p, clk, nil)

	require.NoError(t, e.Load(context.Background()))
	assert.Equal(t, PhaseLoading, e.Snapshot().Phase)

	clk.Advance(time.Minute)
	assert.Empty(t, b.beats())
}

func TestEngine_SendChat(t *testing.T) {
	b, p, clk := newFixture(t0.Add(42*time.Second), nil)
	e := startedEngine(t, b, p, clk)
	defer e.Close()

	_, err := e.SendChat("   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	e.ScrollTo(400)
	assert.False(t, e.Snapshot().AutoScroll)

	msg, err := e.SendChat("  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, 42, msg.TimeSeconds)
	assert.Equal(t, "Ana", msg.UserName)
	assert.True(t, msg.IsOwn)

	v := e.Snapshot()
	require.Len(t, v.Transcript, 1)
	assert.True(t, v.AutoScroll)
}

func TestEngine_AutoScrollForcedByOwnLastMessage(t *testing.T) {
	b, p, clk := newFixture(t0.Add(42*time.Second), nil)
	e := startedEngine(t, b, p, clk)
	defer e.Close()

	_, err := e.SendChat("first")
	require.NoError(t, err)
	e.ScrollTo(500)
	assert.True(t, e.Snapshot().AutoScroll)

	e.ScrollTo(50)
	assert.True(t, e.Snapshot().AutoScroll)
}

func TestEngine_OfferActivationRevealsChat(t *testing.T) {
	offer := &models.WebinarOffer{Time: 105}
	b, p, clk := newFixture(t0.Add(100*time.Second), offer)
	e := startedEngine(t, b, p, clk)
	defer e.Close()

	e.SetChatVisible(false)
	play(e, clk, 100, 3)
	assert.False(t, e.Snapshot().ChatVisible)

	play(e, clk, 103, 3)
	v := e.Snapshot()
	assert.True(t, v.Offer.IsActive)
	assert.True(t, v.ChatVisible)
}

func TestEngine_ReloadMessages(t *testing.T) {
	b, p, clk := newFixture(t0.Add(100*time.Second), nil)
	e := startedEngine(t, b, p, clk)
	defer e.Close()
	assert.Empty(t, e.Snapshot().Transcript)

	b.messages = []models.WebinarMessage{{ID: uuid.New(), UserName: "Host", Message: "new", TimeSeconds: 50}}
	e.ReloadMessages(context.Background())
	assert.Len(t, e.Snapshot().Transcript, 1)
}

func TestEngine_OnChangeReceivesViews(t *testing.T) {
	b, p, clk := newFixture(t0.Add(10*time.Second), nil)
	var phases []Phase
	e := NewEngine(uuid.New(), b, p, Options{
		Clock:    clk,
		OnChange: func(v View) { phases = append(phases, v.Phase) },
	})
	require.NoError(t, e.Load(context.Background()))
	require.NoError(t, e.Start(context.Background()))

	assert.Equal(t, []Phase{PhaseReady, PhaseReady, PhaseAwaitingGesture, PhaseConnecting, PhasePlaying}, phases)
}

func TestEngine_ExpiredViewIsNeverOverwritten(t *testing.T) {
	b, p, clk := newFixture(t0.Add(3590*time.Second), nil)

	var (
		mu      sync.Mutex
		got     []View
		once    sync.Once
		entered = make(chan struct{})
		release = make(chan struct{})
	)
	e := NewEngine(uuid.New(), b, p, Options{
		Clock: clk,
		Rand:  func() float64 { return 0.5 },
		OnChange: func(v View) {
			if v.Phase == PhasePlaying && v.CurrentTime == 3599 {
				once.Do(func() {
					close(entered)
					<-release
				})
			}
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		},
	})
	defer e.Close()
	require.NoError(t, e.Load(context.Background()))
	require.NoError(t, e.Start(context.Background()))
	play(e, clk, 3590, 8)

	// The last playing view stalls in delivery while the grace timer expires the session.
	clk.Advance(time.Second)
	updated := make(chan struct{})
	go func() {
		defer close(updated)
		e.TimeUpdate(3599)
	}()
	<-entered
	expired := make(chan struct{})
	go func() {
		defer close(expired)
		clk.Advance(time.Second)
	}()
	require.Eventually(t, func() bool { return e.Snapshot().Phase == PhaseExpired }, time.Second, time.Millisecond)
	close(release)
	<-updated
	<-expired

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, PhaseExpired, got[len(got)-1].Phase)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq)
	}
}

func TestEngine_SnapshotCarriesLatestSeq(t *testing.T) {
	b, p, clk := newFixture(t0.Add(10*time.Second), nil)
	var last View
	e := NewEngine(uuid.New(), b, p, Options{
		Clock:    clk,
		OnChange: func(v View) { last = v },
	})
	require.NoError(t, e.Load(context.Background()))
	require.NoError(t, e.Start(context.Background()))

	assert.Equal(t, last.Seq, e.Snapshot().Seq)
	assert.NotZero(t, last.Seq)
}
