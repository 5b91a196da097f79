package playback

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/funnel/internal/models"
)

func seed(sec int, text string) models.WebinarMessage {
	return models.WebinarMessage{ID: uuid.New(), UserName: "Host", Message: text, TimeSeconds: sec}
}

func TestVisible_FloorsVideoTime(t *testing.T) {
	entries := ServerEntries([]models.WebinarMessage{seed(10, "a"), seed(11, "b")})

	got := Visible(entries, 10.99)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Text)

	assert.Len(t, Visible(entries, 11), 2)
}

func TestVisible_MonotonicReveal(t *testing.T) {
	var msgs []models.WebinarMessage
	for i := 0; i < 50; i++ {
		msgs = append(msgs, seed((i*37)%600, fmt.Sprintf("m%d", i)))
	}
	entries := ServerEntries(msgs)

	prev := map[string]bool{}
	for t1 := 0.0; t1 < 600; t1 += 7.5 {
		cur := map[string]bool{}
		for _, m := range Visible(entries, t1) {
			cur[m.ID] = true
		}
		for id := range prev {
			assert.True(t, cur[id], "message %s disappeared at %v", id, t1)
		}
		prev = cur
	}
}

func TestTranscript_StableOrderAndOwnFlag(t *testing.T) {
	server := ServerEntries([]models.WebinarMessage{seed(5, "s1"), seed(3, "s0"), seed(5, "s2")})
	local := []Entry{LocalMessage{ID: "l1", UserName: "Ana", Text: "mine", TimeSeconds: 5}}

	got := Transcript(server, local, 5)
	require.Len(t, got, 4)
	texts := []string{got[0].Text, got[1].Text, got[2].Text, got[3].Text}
	assert.Equal(t, []string{"s0", "s1", "s2", "mine"}, texts)
	assert.False(t, got[0].IsOwn)
	assert.True(t, got[3].IsOwn)
}

func TestTranscript_CapKeepsLatest(t *testing.T) {
	var msgs []models.WebinarMessage
	for i := 0; i < 40; i++ {
		msgs = append(msgs, seed(i, fmt.Sprintf("m%d", i)))
	}
	local := []Entry{LocalMessage{ID: "own", Text: "own", TimeSeconds: 39}}

	got := Transcript(ServerEntries(msgs), local, 100)
	require.Len(t, got, MaxTranscript)
	assert.Equal(t, "m11", got[0].Text)
	assert.Equal(t, "m39", got[len(got)-2].Text)
	assert.Equal(t, "own", got[len(got)-1].Text)
}

func TestTranscript_Idempotent(t *testing.T) {
	server := ServerEntries([]models.WebinarMessage{seed(1, "a"), seed(2, "b"), seed(2, "c")})
	assert.Equal(t, Transcript(server, nil, 2.5), Transcript(server, nil, 2.5))
}

func TestServerMessage_DisplayCarriesAdminFlag(t *testing.T) {
	m := seed(1, "hello")
	m.IsAdmin = true
	d := ServerMessage{m}.Display()
	assert.True(t, d.IsAdmin)
	assert.False(t, d.IsOwn)
	assert.Equal(t, m.ID.String(), d.ID)
}

func TestOfferState_Boundary(t *testing.T) {
	offer := &models.WebinarOffer{Time: 300}

	assert.False(t, OfferState(offer, 299.999).IsActive)
	assert.True(t, OfferState(offer, 300).IsActive)
	assert.False(t, OfferState(offer, 120).IsActive, "scrubbing back deactivates")
	assert.False(t, OfferState(nil, 1000).IsActive)
}
