package playback

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/funnel/internal/models"
	"github.com/aura-webinar/funnel/internal/throttle"
	"github.com/aura-webinar/funnel/pkg/response"
)

// Phase is the engine lifecycle state.
type Phase string

const (
	PhaseLoading         Phase = "loading"
	PhaseReady           Phase = "ready"
	PhaseAwaitingGesture Phase = "awaiting_gesture"
	PhaseConnecting      Phase = "connecting"
	PhasePlaying         Phase = "playing"
	PhaseExpired         Phase = "expired"
	PhaseFailed          Phase = "failed"
	PhaseNotStarted      Phase = "not_started"
)

// Viewer-facing notices.
const (
	NoticeClickAgain  = "Your browser blocked playback. Click play again."
	NoticeRetry       = "Playback could not start. Please try again."
	NoticeLoadFailed  = "We could not load this webinar."
	NoticePickAnother = "This webinar has ended. Pick another time to watch it."
)

// ScrollThreshold is how far above the bottom (px) the viewer may scroll before auto-scroll stops.
const ScrollThreshold = 100.0

var (
	// ErrPlaybackNotAllowed is returned by a Player when the browser refused to start playback.
	ErrPlaybackNotAllowed = errors.New("playback not allowed")
	// ErrEmptyMessage rejects blank chat input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrInvalidPhase is returned when an operation does not apply to the current phase.
	ErrInvalidPhase = errors.New("operation not valid in current phase")
)

// SessionData is the session with its webinar.
type SessionData struct {
	Session models.WebinarSession `json:"session"`
	Webinar models.Webinar        `json:"webinar"`
}

// Backend is the engine's view of the session and message endpoints.
type Backend interface {
	GetSession(ctx context.Context, sessionID uuid.UUID) (*SessionData, error)
	GetMessages(ctx context.Context, webinarID uuid.UUID) ([]models.WebinarMessage, error)
	UpdateWatchtime(ctx context.Context, sessionID uuid.UUID, seconds int) error
}

// Player controls the viewer's video element.
type Player interface {
	Seek(ctx context.Context, seconds int) error
	Play(ctx context.Context) error
}

// ErrorReporter receives recoverable integration errors.
type ErrorReporter interface {
	Report(ctx context.Context, op string, err error, fields ...zap.Field)
}

// Timer is a scheduled callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts wall time and timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time                            { return time.Now() }
func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Options configures an Engine. Zero durations take the defaults.
type Options struct {
	HeartbeatInterval   time.Duration
	CommitInterval      time.Duration
	ParticipantInterval time.Duration
	GraceDelay          time.Duration
	ComeBackURL         string
	HomeURL             string
	Support             response.Support
	Override            *int
	Clock               Clock
	Rand                func() float64
	Logger              *zap.Logger
	Reporter            ErrorReporter
	OnChange            func(View)
}

func (o *Options) applyDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 20 * time.Second
	}
	if o.CommitInterval <= 0 {
		o.CommitInterval = time.Second
	}
	if o.ParticipantInterval <= 0 {
		o.ParticipantInterval = 10 * time.Second
	}
	if o.GraceDelay <= 0 {
		o.GraceDelay = time.Second
	}
	if o.Clock == nil {
		o.Clock = systemClock{}
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// View is the derived state rendered for the viewer.
type View struct {
	Phase           Phase             `json:"phase"`
	Title           string            `json:"title,omitempty"`
	VideoURL        string            `json:"video_url,omitempty"`
	BackgroundImage string            `json:"background_image,omitempty"`
	Duration        int               `json:"duration"`
	CurrentTime     float64           `json:"current_time"`
	Transcript      []DisplayMessage  `json:"transcript"`
	Offer           ActiveOffer       `json:"offer"`
	Participants    int               `json:"participants"`
	ChatVisible     bool              `json:"chat_visible"`
	AutoScroll      bool              `json:"auto_scroll"`
	Paused          bool              `json:"paused"`
	SessionExpired  bool              `json:"session_expired"`
	ShowFeedback    bool              `json:"show_feedback"`
	Notice          string            `json:"notice,omitempty"`
	Redirect        string            `json:"redirect,omitempty"`
	Support         *response.Support `json:"support,omitempty"`
	// Seq orders views; a subscriber never receives one older than the last it saw.
	Seq uint64 `json:"seq"`
}

// Engine is the playback state machine of one viewer connection.
type Engine struct {
	mu        sync.Mutex
	seq       uint64
	notifyMu  sync.Mutex
	delivered uint64
	sessionID uuid.UUID
	backend   Backend
	player    Player
	opts      Options
	logger    *zap.Logger

	phase   Phase
	mounted bool
	data    *SessionData
	server  []Entry
	local   []Entry

	sample       float64 // latest player time
	current      float64 // committed time
	commit       *throttle.Gate
	participants *Participants

	offerActive  bool
	chatVisible  bool
	scrolledUp   bool
	paused       bool
	expired      bool
	showFeedback bool
	notice       string
	redirect     string

	heartbeat Timer
	grace     Timer
}

// NewEngine creates an engine for one session.
func NewEngine(sessionID uuid.UUID, backend Backend, player Player, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		sessionID:   sessionID,
		backend:     backend,
		player:      player,
		opts:        opts,
		logger:      opts.Logger.With(zap.String("session_id", sessionID.String())),
		phase:       PhaseLoading,
		mounted:     true,
		chatVisible: true,
		commit:      throttle.NewGate(opts.CommitInterval, opts.Clock.Now),
	}
}

// Load fetches the session and webinar, resolves the broadcast window and the chat history.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	if e.phase != PhaseLoading {
		e.mu.Unlock()
		return ErrInvalidPhase
	}
	e.mu.Unlock()

	data, err := e.backend.GetSession(ctx, e.sessionID)

	e.mu.Lock()
	if !e.mounted {
		e.mu.Unlock()
		return nil
	}
	if err != nil {
		e.phase = PhaseFailed
		e.notice = NoticeLoadFailed
		e.redirect = e.opts.HomeURL
		e.logger.Error("load session failed", zap.Error(err))
		e.unlockAndNotify()
		e.report(ctx, "playback.load", err)
		return err
	}
	e.data = data
	e.participants = NewParticipants(ParticipantConfigFor(data.Webinar.Offer), e.opts.ParticipantInterval, e.opts.Clock.Now, e.opts.Rand)
	if e.opts.Override == nil {
		switch Window(e.opts.Clock.Now(), data.Session.StartDate, data.Webinar.DurationSeconds) {
		case NotStarted:
			e.phase = PhaseNotStarted
			e.redirect = e.opts.ComeBackURL
			e.unlockAndNotify()
			return nil
		case Over:
			e.expired = true
			e.phase = PhaseExpired
			e.decideFeedbackLocked()
			e.unlockAndNotify()
			return nil
		}
	}
	e.phase = PhaseReady
	e.unlockAndNotify()

	e.ReloadMessages(ctx)

	e.mu.Lock()
	if !e.mounted || e.phase != PhaseReady {
		e.mu.Unlock()
		return nil
	}
	e.phase = PhaseAwaitingGesture
	e.unlockAndNotify()
	return nil
}

// ReloadMessages refetches the seeded chat. Failures keep the current transcript.
func (e *Engine) ReloadMessages(ctx context.Context) {
	e.mu.Lock()
	if e.data == nil {
		e.mu.Unlock()
		return
	}
	webinarID := e.data.Webinar.ID
	e.mu.Unlock()

	msgs, err := e.backend.GetMessages(ctx, webinarID)

	e.mu.Lock()
	if !e.mounted {
		e.mu.Unlock()
		return
	}
	if err != nil {
		e.mu.Unlock()
		e.logger.Warn("load chat history failed", zap.Error(err))
		e.report(ctx, "playback.messages", err)
		return
	}
	e.server = ServerEntries(msgs)
	e.unlockAndNotify()
}

// Start seeks to the initial offset and starts the player after a viewer gesture.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if !e.mounted || e.phase != PhaseAwaitingGesture {
		e.mu.Unlock()
		return ErrInvalidPhase
	}
	e.phase = PhaseConnecting
	e.notice = ""
	offset := InitialOffset(e.opts.Clock.Now(), e.data.Session.StartDate, e.data.Webinar.DurationSeconds, e.opts.Override)
	e.unlockAndNotify()

	err := e.player.Seek(ctx, offset)
	if err == nil {
		err = e.player.Play(ctx)
	}

	e.mu.Lock()
	if !e.mounted {
		e.mu.Unlock()
		return nil
	}
	if err != nil {
		e.phase = PhaseAwaitingGesture
		if errors.Is(err, ErrPlaybackNotAllowed) {
			e.notice = NoticeClickAgain
		} else {
			e.notice = NoticeRetry
		}
		e.unlockAndNotify()
		e.logger.Warn("playback start failed", zap.Int("offset", offset), zap.Error(err))
		e.report(ctx, "playback.start", err)
		return err
	}
	e.phase = PhasePlaying
	e.sample = float64(offset)
	e.current = float64(offset)
	e.commit.Reset()
	e.commit.Allow()
	e.offerActive = OfferState(e.data.Webinar.Offer, e.current).IsActive
	e.participants.Force(e.current, e.data.Webinar.DurationSeconds)
	e.scheduleHeartbeatLocked()
	e.checkEndLocked()
	e.unlockAndNotify()
	return nil
}

// TimeUpdate records a player time sample; it is committed at most once per commit interval.
func (e *Engine) TimeUpdate(t float64) {
	e.mu.Lock()
	if !e.mounted || e.phase != PhasePlaying {
		e.mu.Unlock()
		return
	}
	e.sample = t
	e.checkEndLocked()
	if !e.commit.Allow() {
		e.mu.Unlock()
		return
	}
	e.current = t
	e.recomputeLocked()
	e.unlockAndNotify()
}

// Ended handles the end-of-media event.
func (e *Engine) Ended() {
	e.mu.Lock()
	if !e.mounted || e.phase != PhasePlaying {
		e.mu.Unlock()
		return
	}
	e.expireLocked()
}

// Pause stops heartbeats until Resume.
func (e *Engine) Pause() { e.setPaused(true) }

// Resume restarts heartbeats after Pause.
func (e *Engine) Resume() { e.setPaused(false) }

func (e *Engine) setPaused(paused bool) {
	e.mu.Lock()
	if !e.mounted || e.paused == paused {
		e.mu.Unlock()
		return
	}
	e.paused = paused
	e.unlockAndNotify()
}

// SendChat appends a viewer message at the committed second. It is not sent anywhere.
func (e *Engine) SendChat(text string) (DisplayMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return DisplayMessage{}, ErrEmptyMessage
	}
	e.mu.Lock()
	if !e.mounted || e.data == nil {
		e.mu.Unlock()
		return DisplayMessage{}, ErrInvalidPhase
	}
	msg := LocalMessage{
		ID:          uuid.NewString(),
		UserName:    e.data.Session.UserName,
		Text:        text,
		TimeSeconds: Second(e.current),
	}
	e.local = append(e.local, msg)
	e.scrolledUp = false
	e.unlockAndNotify()
	return msg.Display(), nil
}

// ScrollTo records the transcript's distance from the bottom in pixels.
func (e *Engine) ScrollTo(distanceFromBottom float64) {
	e.mu.Lock()
	up := distanceFromBottom > ScrollThreshold
	if !e.mounted || e.scrolledUp == up {
		e.mu.Unlock()
		return
	}
	e.scrolledUp = up
	e.unlockAndNotify()
}

// SetChatVisible shows or hides the chat panel.
func (e *Engine) SetChatVisible(visible bool) {
	e.mu.Lock()
	if !e.mounted || e.chatVisible == visible {
		e.mu.Unlock()
		return
	}
	e.chatVisible = visible
	e.unlockAndNotify()
}

// Snapshot returns the current view.
func (e *Engine) Snapshot() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// Close stops timers and drops any late results.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mounted = false
	e.stopTimersLocked()
}

func (e *Engine) viewLocked() View {
	v := View{
		Phase:          e.phase,
		CurrentTime:    e.current,
		ChatVisible:    e.chatVisible,
		Paused:         e.paused,
		SessionExpired: e.expired,
		ShowFeedback:   e.showFeedback,
		Notice:         e.notice,
		Redirect:       e.redirect,
		Transcript:     []DisplayMessage{},
		Seq:            e.seq,
	}
	if e.phase == PhaseFailed {
		support := e.opts.Support
		v.Support = &support
	}
	if e.data == nil {
		return v
	}
	w := e.data.Webinar
	v.Title = w.Title
	v.VideoURL = w.VideoURL
	v.BackgroundImage = w.BackgroundImage
	v.Duration = w.DurationSeconds
	v.Transcript = Transcript(e.server, e.local, e.current)
	v.Offer = OfferState(w.Offer, e.current)
	if e.participants != nil {
		v.Participants = e.participants.Value()
	}
	ownLast := len(v.Transcript) > 0 && v.Transcript[len(v.Transcript)-1].IsOwn
	v.AutoScroll = !e.scrolledUp || ownLast
	return v
}

// unlockAndNotify releases the lock and pushes the new view to the subscriber.
func (e *Engine) unlockAndNotify() {
	e.seq++
	v := e.viewLocked()
	cb := e.opts.OnChange
	mounted := e.mounted
	e.mu.Unlock()
	if cb != nil && mounted {
		e.deliver(cb, v)
	}
}

// deliver runs one callback at a time and drops views superseded by one already delivered.
func (e *Engine) deliver(cb func(View), v View) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	if v.Seq <= e.delivered {
		return
	}
	e.delivered = v.Seq
	cb(v)
}

func (e *Engine) recomputeLocked() {
	active := OfferState(e.data.Webinar.Offer, e.current).IsActive
	if active && !e.offerActive && !e.chatVisible {
		e.chatVisible = true
	}
	e.offerActive = active
	e.participants.Update(e.current, e.data.Webinar.DurationSeconds)
}

// checkEndLocked schedules expiry once the last second is reached.
func (e *Engine) checkEndLocked() {
	last := float64(e.data.Webinar.DurationSeconds - 1)
	if e.grace != nil || e.sample < last {
		return
	}
	e.grace = e.opts.Clock.AfterFunc(e.opts.GraceDelay, func() {
		e.mu.Lock()
		if !e.mounted || e.phase != PhasePlaying {
			e.mu.Unlock()
			return
		}
		e.expireLocked()
	})
}

// expireLocked enters the expired phase, unlocks, and sends the final heartbeat.
func (e *Engine) expireLocked() {
	e.stopTimersLocked()
	e.decideFeedbackLocked()
	e.phase = PhaseExpired
	e.expired = true
	duration := e.data.Webinar.DurationSeconds
	e.unlockAndNotify()
	e.sendHeartbeat(duration)
}

// decideFeedbackLocked offers feedback when more than half of the webinar was watched.
func (e *Engine) decideFeedbackLocked() {
	watched := e.data.Session.WatchtimeSeconds
	if pos := int(math.Round(e.sample)); pos > watched {
		watched = pos
	}
	e.showFeedback = float64(watched) > float64(e.data.Webinar.DurationSeconds)/2
	if !e.showFeedback {
		e.notice = NoticePickAnother
	}
}

func (e *Engine) scheduleHeartbeatLocked() {
	e.heartbeat = e.opts.Clock.AfterFunc(e.opts.HeartbeatInterval, e.heartbeatTick)
}

func (e *Engine) heartbeatTick() {
	e.mu.Lock()
	if !e.mounted || e.phase != PhasePlaying {
		e.mu.Unlock()
		return
	}
	e.scheduleHeartbeatLocked()
	if e.paused {
		e.mu.Unlock()
		return
	}
	secs := int(math.Round(e.sample))
	e.mu.Unlock()
	e.sendHeartbeat(secs)
}

func (e *Engine) sendHeartbeat(seconds int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.backend.UpdateWatchtime(ctx, e.sessionID, seconds); err != nil {
		e.logger.Warn("watchtime heartbeat failed", zap.Int("seconds", seconds), zap.Error(err))
	}
}

func (e *Engine) stopTimersLocked() {
	if e.heartbeat != nil {
		e.heartbeat.Stop()
		e.heartbeat = nil
	}
	if e.grace != nil {
		e.grace.Stop()
	}
}

func (e *Engine) report(ctx context.Context, op string, err error) {
	if e.opts.Reporter != nil {
		e.opts.Reporter.Report(ctx, op, err, zap.String("session_id", e.sessionID.String()))
	}
}
