package webinars

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-webinar/funnel/internal/playback"
	"github.com/aura-webinar/funnel/internal/realtime"
	"github.com/aura-webinar/funnel/pkg/response"
)

// Events sent to the browser.
const (
	EventState = "state"
	EventSeek  = "seek"
	EventPlay  = "play"
	EventError = "error"
)

// Events received from the browser.
const (
	EventGesture     = "gesture"
	EventPlayResult  = "play_result"
	EventTimeUpdate  = "time_update"
	EventEnded       = "ended"
	EventPause       = "pause"
	EventResume      = "resume"
	EventChat        = "chat"
	EventScroll      = "scroll"
	EventChatVisible = "chat_visible"
)

// DefaultPlayTimeout bounds the wait for the browser's play result.
const DefaultPlayTimeout = 10 * time.Second

// ErrPlayTimeout is returned when the browser does not answer a play command.
var ErrPlayTimeout = errors.New("play result timed out")

// LiveConfig configures the engines run by the websocket.
type LiveConfig struct {
	HeartbeatInterval   time.Duration
	CommitInterval      time.Duration
	ParticipantInterval time.Duration
	GraceDelay          time.Duration
	ComeBackURL         string
	RegisterURL         string // sent with 404 for unknown sessions
	HomeURL             string
	Support             response.Support
	PlayTimeout         time.Duration
}

// Live serves GET /ws/sessions/:id. Each connection owns one playback engine.
type Live struct {
	svc      *Service
	hub      *realtime.Hub
	upgrader *websocket.Upgrader
	cfg      LiveConfig
	reporter playback.ErrorReporter
	logger   *zap.Logger
}

// NewLive creates the playback websocket handler. reporter may be nil.
func NewLive(svc *Service, hub *realtime.Hub, upgrader *websocket.Upgrader, cfg LiveConfig, reporter playback.ErrorReporter, logger *zap.Logger) *Live {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PlayTimeout <= 0 {
		cfg.PlayTimeout = DefaultPlayTimeout
	}
	return &Live{svc: svc, hub: hub, upgrader: upgrader, cfg: cfg, reporter: reporter, logger: logger}
}

// preloaded serves the session fetched before the upgrade to the engine's first load.
type preloaded struct {
	playback.Backend
	data *playback.SessionData
}

func (p preloaded) GetSession(ctx context.Context, sessionID uuid.UUID) (*playback.SessionData, error) {
	return p.data, nil
}

// Serve upgrades the connection and runs the engine until the browser disconnects.
func (l *Live) Serve(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	data, err := l.svc.GetSession(c.Request.Context(), sessionID)
	if errors.Is(err, ErrNotFound) {
		response.NotFoundRedirect(c, "session not found", l.cfg.RegisterURL)
		return
	}
	if err != nil {
		l.logger.Error("load session failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		response.Fatal(c, "failed to load session", l.cfg.Support, l.cfg.HomeURL)
		return
	}
	conn, err := l.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	logger := l.logger.With(zap.String("session_id", sessionID.String()), zap.String("webinar_id", data.Webinar.ID.String()))
	client := realtime.NewClient(l.hub, conn, data.Webinar.ID, logger)
	player := newRemotePlayer(client.Send, l.cfg.PlayTimeout)
	engine := playback.NewEngine(sessionID, preloaded{Backend: l.svc, data: data}, player, playback.Options{
		HeartbeatInterval:   l.cfg.HeartbeatInterval,
		CommitInterval:      l.cfg.CommitInterval,
		ParticipantInterval: l.cfg.ParticipantInterval,
		GraceDelay:          l.cfg.GraceDelay,
		ComeBackURL:         l.cfg.ComeBackURL,
		HomeURL:             l.cfg.HomeURL,
		Support:             l.cfg.Support,
		Override:            playback.ParseTimeOverride(c.Query("time")),
		Logger:              logger,
		Reporter:            l.reporter,
		OnChange: func(v playback.View) {
			if err := client.Send(EventState, v); err != nil && !errors.Is(err, realtime.ErrClosed) {
				logger.Debug("state not delivered", zap.Error(err))
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		engine.Close()
	}()

	s := &liveSession{engine: engine, player: player, client: client, logger: logger}
	client.OnEvent(func(event string, _ json.RawMessage) {
		if event == realtime.EventMessagesUpdated {
			go engine.ReloadMessages(ctx)
		}
	})
	client.OnMessage(func(m realtime.WSMessage) { s.handle(ctx, m) })

	go func() {
		if err := engine.Load(ctx); err != nil {
			logger.Warn("playback load failed", zap.Error(err))
		}
	}()
	client.Run()
}

// liveSession routes browser events to one engine.
type liveSession struct {
	engine *playback.Engine
	player *remotePlayer
	client *realtime.Client
	logger *zap.Logger
}

func (s *liveSession) handle(ctx context.Context, m realtime.WSMessage) {
	switch m.Event {
	case EventGesture:
		go func() {
			if err := s.engine.Start(ctx); errors.Is(err, playback.ErrInvalidPhase) {
				s.sendError(err)
			}
		}()
	case EventPlayResult:
		var p struct {
			ID    string `json:"id"`
			OK    bool   `json:"ok"`
			Error string `json:"error"`
		}
		if s.decode(m, &p) {
			s.player.resolve(p.ID, p.OK, p.Error)
		}
	case EventTimeUpdate:
		var p struct {
			Time float64 `json:"time"`
		}
		if s.decode(m, &p) {
			s.engine.TimeUpdate(p.Time)
		}
	case EventEnded:
		s.engine.Ended()
	case EventPause:
		s.engine.Pause()
	case EventResume:
		s.engine.Resume()
	case EventChat:
		var p struct {
			Text string `json:"text"`
		}
		if s.decode(m, &p) {
			if _, err := s.engine.SendChat(p.Text); err != nil {
				s.sendError(err)
			}
		}
	case EventScroll:
		var p struct {
			Distance float64 `json:"distance"`
		}
		if s.decode(m, &p) {
			s.engine.ScrollTo(p.Distance)
		}
	case EventChatVisible:
		var p struct {
			Visible bool `json:"visible"`
		}
		if s.decode(m, &p) {
			s.engine.SetChatVisible(p.Visible)
		}
	default:
		s.logger.Debug("unknown playback event", zap.String("event", m.Event))
	}
}

func (s *liveSession) decode(m realtime.WSMessage, v interface{}) bool {
	if err := json.Unmarshal(m.Data, v); err != nil {
		s.sendError(fmt.Errorf("invalid %s payload", m.Event))
		return false
	}
	return true
}

func (s *liveSession) sendError(err error) {
	_ = s.client.Send(EventError, gin.H{"error": err.Error()})
}

// remotePlayer drives the browser's video element with seek and play commands.
type remotePlayer struct {
	send    func(event string, payload interface{}) error
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan error
}

func newRemotePlayer(send func(string, interface{}) error, timeout time.Duration) *remotePlayer {
	return &remotePlayer{send: send, timeout: timeout, pending: make(map[string]chan error)}
}

// Seek implements playback.Player.
func (p *remotePlayer) Seek(ctx context.Context, seconds int) error {
	return p.send(EventSeek, gin.H{"time": seconds})
}

// Play implements playback.Player. It waits for the browser's play_result.
func (p *remotePlayer) Play(ctx context.Context) error {
	id := uuid.NewString()
	ch := make(chan error, 1)
	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.send(EventPlay, gin.H{"id": id}); err != nil {
		return err
	}
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case err := <-ch:
		return err
	case <-timer.C:
		return ErrPlayTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *remotePlayer) resolve(id string, ok bool, reason string) {
	p.mu.Lock()
	ch, found := p.pending[id]
	p.mu.Unlock()
	if !found {
		return
	}
	var err error
	switch {
	case ok:
	case reason == "not_allowed":
		err = playback.ErrPlaybackNotAllowed
	default:
		err = fmt.Errorf("play failed: %s", reason)
	}
	select {
	case ch <- err:
	default:
	}
}
