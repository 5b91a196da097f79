package webinars

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/funnel/pkg/response"
)

type envelope struct {
	Success  bool              `json:"success"`
	Data     json.RawMessage   `json:"data"`
	Error    string            `json:"error"`
	Code     string            `json:"code"`
	Support  *response.Support `json:"support"`
	Redirect string            `json:"redirect"`
}

var testSupport = response.Support{Email: "help@example.com", Phone: "+385 1 234 5678"}

type fixedAudience int

func (a fixedAudience) AudienceCount(uuid.UUID) int { return int(a) }

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(svc, fixedAudience(42), testSupport, "https://example.com", nil)
	r := gin.New()
	api := r.Group("/api")
	api.POST("/get-session", h.GetSession)
	api.POST("/get-messages", h.GetMessages)
	api.POST("/update-watchtime", h.UpdateWatchtime)
	api.POST("/send-feedback", h.SendFeedback)
	r.GET("/sessions/:id/view", h.View)
	r.POST("/admin/webinars/:id/messages", h.AddMessage)
	r.GET("/admin/webinars/:id/audience", h.AudienceCount)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestGetSession(t *testing.T) {
	store := newMemStore()
	d := seed(store, time.Hour)
	r := newTestRouter(newTestService(store, nil))

	w, env := do(t, r, http.MethodPost, "/api/get-session", gin.H{"session_id": d.Session.ID})
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Session struct {
			UserName string `json:"user_name"`
		} `json:"session"`
		Webinar struct {
			Title    string `json:"title"`
			Duration int    `json:"duration"`
		} `json:"webinar"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "Jana", got.Session.UserName)
	assert.Equal(t, "Spring sourdough", got.Webinar.Title)
	assert.Equal(t, 7200, got.Webinar.Duration)

	w, env = do(t, r, http.MethodPost, "/api/get-session", gin.H{"session_id": uuid.New()})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)

	w, _ = do(t, r, http.MethodPost, "/api/get-session", gin.H{"session_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMessages(t *testing.T) {
	store := newMemStore()
	d := seed(store, time.Hour)
	r := newTestRouter(newTestService(store, nil))

	w, env := do(t, r, http.MethodPost, "/api/get-messages", gin.H{"webinar_id": d.Webinar.ID})
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Messages []struct {
			Message     string `json:"message"`
			TimeSeconds int    `json:"time_seconds"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Len(t, got.Messages, 3)
	assert.Equal(t, 300, got.Messages[1].TimeSeconds)
}

func TestUpdateWatchtime_RoundsCurrentTime(t *testing.T) {
	store := newMemStore()
	d := seed(store, time.Hour)
	r := newTestRouter(newTestService(store, nil))

	w, _ := do(t, r, http.MethodPost, "/api/update-watchtime", gin.H{"session_id": d.Session.ID, "current_time": 61.6})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 62, store.watchtime[d.Session.ID])

	w, env := do(t, r, http.MethodPost, "/api/update-watchtime", gin.H{"session_id": d.Session.ID, "current_time": -3})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "current_time", env.Code)
}

func TestUpdateWatchtime_CappedAtDuration(t *testing.T) {
	store := newMemStore()
	d := seed(store, time.Hour)
	r := newTestRouter(newTestService(store, nil))

	w, _ := do(t, r, http.MethodPost, "/api/update-watchtime", gin.H{"session_id": d.Session.ID, "current_time": 1e300})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7200, store.watchtime[d.Session.ID])

	w, _ = do(t, r, http.MethodPost, "/api/update-watchtime", gin.H{"session_id": uuid.New(), "current_time": 10})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_UnexpectedFailureOffersSupport(t *testing.T) {
	store := newMemStore()
	d := seed(store, time.Hour)
	store.failList = errors.New("connection reset")
	r := newTestRouter(newTestService(store, nil))

	w, env := do(t, r, http.MethodPost, "/api/get-messages", gin.H{"webinar_id": d.Webinar.ID})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotNil(t, env.Support)
	assert.Equal(t, testSupport, *env.Support)
	assert.Equal(t, "https://example.com", env.Redirect)
}

func TestSendFeedback_Handler(t *testing.T) {
	store := newMemStore()
	d := seed(store, time.Hour)
	r := newTestRouter(newTestService(store, nil))

	w, env := do(t, r, http.MethodPost, "/api/send-feedback", gin.H{"webinar_id": d.Webinar.ID, "rating": 7})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "rating", env.Code)

	w, _ = do(t, r, http.MethodPost, "/api/send-feedback", gin.H{"webinar_id": d.Webinar.ID, "rating": 4, "comment": "Loved it"})
	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, store.feedback, 1)
	assert.Equal(t, 4, store.feedback[0].Rating)
}

func TestView_TimeOverride(t *testing.T) {
	store := newMemStore()
	d := seed(store, time.Hour)
	r := newTestRouter(newTestService(store, nil))

	w, env := do(t, r, http.MethodGet, "/sessions/"+d.Session.ID.String()+"/view?time=305", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var p Preview
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, 305, p.Time)
	assert.Len(t, p.Transcript, 2)

	w, env = do(t, r, http.MethodGet, "/sessions/"+d.Session.ID.String()+"/view?time=abc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, 3600, p.Time)
}

func TestAddMessage_Handler(t *testing.T) {
	store := newMemStore()
	d := seed(store, time.Hour)
	n := &recordingNotifier{}
	r := newTestRouter(newTestService(store, n))

	w, _ := do(t, r, http.MethodPost, "/admin/webinars/"+d.Webinar.ID.String()+"/messages",
		gin.H{"user_name": "Host", "message": "Ten minutes left", "time_seconds": 6600, "is_admin": true})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, n.events, 1)

	w, _ = do(t, r, http.MethodPost, "/admin/webinars/"+uuid.NewString()+"/messages",
		gin.H{"user_name": "Host", "message": "Hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAudienceCount(t *testing.T) {
	r := newTestRouter(newTestService(newMemStore(), nil))
	w, env := do(t, r, http.MethodGet, "/admin/webinars/"+uuid.NewString()+"/audience", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"count":42`)
}
