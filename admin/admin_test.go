package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"carnival/activity"
	"carnival/db/dbtest"
	"carnival/scraper"
	"carnival/settings"
	"carnival/stats"
	"carnival/videos"
	"carnival/votes"

	"github.com/go-chi/chi/v5"
)

type fakeProber struct {
	result scraper.ProbeResult
	err    error
	names  []string
}

func (p *fakeProber) Probe(_ context.Context, name string) (scraper.ProbeResult, error) {
	p.names = append(p.names, name)
	if _, err := settings.LookupKeySpec(name); err != nil {
		return scraper.ProbeResult{}, err
	}
	return p.result, p.err
}

type fakeLLM struct {
	configured bool
	err        error
}

func (f fakeLLM) Configured(context.Context) bool { return f.configured }
func (f fakeLLM) Probe(context.Context) error     { return f.err }

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	d := dbtest.New(t)
	st := settings.New(d, nil)
	st.Env = func(string) string { return "" }
	return &Handler{
		DB:       d,
		Videos:   videos.NewStore(d),
		Votes:    votes.NewStore(d),
		Stats:    stats.New(d),
		Settings: st,
		Activity: activity.New(d),
		Scrapers: &fakeProber{result: scraper.ProbeResult{Success: true, Message: "ok"}},
		LLM:      fakeLLM{configured: true},
		Server:   ServerInfo{Port: 3000, RateLimitWindowMS: 900000, RateLimitMax: 100},
	}
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return m
}

func jsonRequest(method, path string, body interface{}) *http.Request {
	b, _ := json.Marshal(body)
	return httptest.NewRequest(method, path, bytes.NewReader(b))
}

func lastAction(t *testing.T, h *Handler) string {
	t.Helper()
	entries, err := h.Activity.Recent(context.Background(), 1)
	if err != nil || len(entries) == 0 {
		t.Fatalf("no activity recorded: %v", err)
	}
	return entries[0].Action
}

func TestHandleStats(t *testing.T) {
	h := newTestHandler(t)
	a := dbtest.InsertVideo(t, h.DB, "youtube", "https://youtu.be/a", "a", "A")
	b := dbtest.InsertVideo(t, h.DB, "tiktok", "https://www.tiktok.com/@u/video/1", "1", "B")
	dbtest.InsertVote(t, h.DB, a, "1.1.1.1", "2024-01-01 09:15:00")
	dbtest.InsertVote(t, h.DB, b, "1.1.1.1", "2024-01-01 09:45:00")
	dbtest.InsertVote(t, h.DB, b, "2.2.2.2", "2024-01-01 21:00:00")

	rec := httptest.NewRecorder()
	h.HandleStats(rec, httptest.NewRequest("GET", "/api/admin/stats", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool     `json:"success"`
		Stats   Overview `json:"stats"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)
	s := resp.Stats
	if s.Videos != 2 || s.Votes != 3 || s.UniqueVoters != 2 {
		t.Errorf("counts = %d/%d/%d", s.Videos, s.Votes, s.UniqueVoters)
	}
	if len(s.TopVoters) != 2 || s.TopVoters[0] != (VoterCount{"1.1.1.1", 2}) {
		t.Errorf("top voters = %+v", s.TopVoters)
	}
	want := []HourCount{{"09", 2}, {"21", 1}}
	if len(s.VotesByHour) != 2 || s.VotesByHour[0] != want[0] || s.VotesByHour[1] != want[1] {
		t.Errorf("votes by hour = %+v, want %+v", s.VotesByHour, want)
	}
	if len(s.RecentVideos) != 2 || len(s.ByPlatform) != 2 {
		t.Errorf("recent = %d, by platform = %+v", len(s.RecentVideos), s.ByPlatform)
	}
	if s.System["go_version"] == nil {
		t.Error("expected system info")
	}
}

func TestHandleUpdateVideo(t *testing.T) {
	h := newTestHandler(t)
	id := dbtest.InsertVideo(t, h.DB, "youtube", "https://youtu.be/a", "a", "Old")

	rec := httptest.NewRecorder()
	h.HandleUpdateVideo(rec, withChiParam(jsonRequest("PUT", "/", map[string]string{"title": "New"}), "id", "1"))
	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	v, _ := h.Videos.Get(context.Background(), id)
	if v.Title != "New" {
		t.Errorf("title = %q", v.Title)
	}
	if got := lastAction(t, h); got != activity.VideoUpdated {
		t.Errorf("activity = %q", got)
	}

	rec = httptest.NewRecorder()
	h.HandleUpdateVideo(rec, withChiParam(jsonRequest("PUT", "/", map[string]string{}), "id", "1"))
	if rec.Code != 400 {
		t.Errorf("empty update status = %d, want 400", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.HandleUpdateVideo(rec, withChiParam(jsonRequest("PUT", "/", map[string]string{"title": "x"}), "id", "99"))
	if rec.Code != 404 {
		t.Errorf("unknown video status = %d, want 404", rec.Code)
	}
}

func TestHandleDeleteAndBulkDelete(t *testing.T) {
	h := newTestHandler(t)
	a := dbtest.InsertVideo(t, h.DB, "youtube", "https://youtu.be/a", "a", "A")
	dbtest.InsertVideo(t, h.DB, "youtube", "https://youtu.be/b", "b", "B")
	dbtest.InsertVideo(t, h.DB, "youtube", "https://youtu.be/c", "c", "C")
	dbtest.InsertVote(t, h.DB, a, "1.1.1.1", "")

	rec := httptest.NewRecorder()
	h.HandleDeleteVideo(rec, withChiParam(httptest.NewRequest("DELETE", "/", nil), "id", "1"))
	if rec.Code != 200 {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if n, _ := h.Votes.Count(context.Background(), a); n != 0 {
		t.Errorf("votes after delete = %d", n)
	}
	rec = httptest.NewRecorder()
	h.HandleDeleteVideo(rec, withChiParam(httptest.NewRequest("DELETE", "/", nil), "id", "1"))
	if rec.Code != 404 {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.HandleBulkDelete(rec, jsonRequest("POST", "/", map[string]interface{}{"videoIds": []int64{2, 3, 42}}))
	if rec.Code != 200 {
		t.Fatalf("bulk status = %d", rec.Code)
	}
	if got := decodeJSON(t, rec)["deletedCount"]; got != float64(2) {
		t.Errorf("deletedCount = %v, want 2", got)
	}
	if got := lastAction(t, h); got != activity.VideosBulkDeleted {
		t.Errorf("activity = %q", got)
	}

	for _, body := range []string{`{"videoIds":[]}`, `{}`, `{"videoIds":"1"}`} {
		rec = httptest.NewRecorder()
		h.HandleBulkDelete(rec, httptest.NewRequest("POST", "/", bytes.NewBufferString(body)))
		if rec.Code != 400 {
			t.Errorf("body %s status = %d, want 400", body, rec.Code)
		}
	}
}

func TestHandleClearVotes(t *testing.T) {
	h := newTestHandler(t)
	id := dbtest.InsertVideo(t, h.DB, "youtube", "https://youtu.be/a", "a", "A")
	dbtest.InsertVote(t, h.DB, id, "1.1.1.1", "")
	dbtest.InsertVote(t, h.DB, id, "2.2.2.2", "")

	rec := httptest.NewRecorder()
	h.HandleClearVotes(rec, withChiParam(httptest.NewRequest("POST", "/", nil), "videoId", "1"))
	if got := decodeJSON(t, rec)["deletedCount"]; got != float64(2) {
		t.Errorf("deletedCount = %v", got)
	}
	if got := lastAction(t, h); got != activity.VotesCleared {
		t.Errorf("activity = %q", got)
	}
	// A cleared IP can vote again.
	if _, err := h.Votes.Cast(context.Background(), id, "1.1.1.1", ""); err != nil {
		t.Errorf("re-vote after clear: %v", err)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.HandleUpdateConfig(rec, jsonRequest("PUT", "/", map[string]interface{}{
		"apis": map[string]interface{}{
			"tiktok1": map[string]string{"key": "abcdefghijkl", "host": "alt.example.com"},
			"youtube": map[string]string{"key": "yt-secret-key"},
		},
	}))
	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := lastAction(t, h); got != activity.ConfigUpdated {
		t.Errorf("activity = %q", got)
	}

	rec = httptest.NewRecorder()
	h.HandleGetConfig(rec, httptest.NewRequest("GET", "/api/admin/config", nil))
	var resp struct {
		Config struct {
			APIs   settings.APIConfigs `json:"apis"`
			Server ServerInfo          `json:"server"`
		} `json:"config"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)
	apis := resp.Config.APIs
	if apis.TikTok1.Key != "abcd****ijkl" || apis.TikTok1.Host != "alt.example.com" || !apis.TikTok1.Configured {
		t.Errorf("tiktok1 = %+v", apis.TikTok1)
	}
	if apis.TikTok2.Configured || apis.TikTok2.Host != settings.DefaultTikTokHost2 {
		t.Errorf("tiktok2 = %+v", apis.TikTok2)
	}
	if !apis.YouTube.Configured || apis.YouTube.Key == "yt-secret-key" {
		t.Errorf("youtube = %+v", apis.YouTube)
	}
	if resp.Config.Server.RateLimitMax != 100 {
		t.Errorf("server = %+v", resp.Config.Server)
	}

	rec = httptest.NewRecorder()
	h.HandleUpdateConfig(rec, jsonRequest("PUT", "/", map[string]string{}))
	if rec.Code != 400 {
		t.Errorf("missing apis status = %d, want 400", rec.Code)
	}
}

func TestHandleLogs_MergesNewestFirst(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()
	id := dbtest.InsertVideo(t, h.DB, "youtube", "https://youtu.be/a", "a", "A")
	h.DB.ExecContext(ctx, `UPDATE videos SET created_at = '2024-01-01 10:00:00'`)
	dbtest.InsertVote(t, h.DB, id, "1.1.1.1", "2024-01-02 10:00:00")
	h.Activity.Record(ctx, activity.VideoUpdated, map[string]int64{"videoId": id}, "9.9.9.9", "")
	h.DB.ExecContext(ctx, `UPDATE activity_logs SET created_at = '2024-01-03 10:00:00'`)

	rec := httptest.NewRecorder()
	h.HandleLogs(rec, httptest.NewRequest("GET", "/api/admin/logs", nil))
	var resp struct {
		Logs []LogEvent `json:"logs"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)
	want := []string{"VIDEO_UPDATED", "VOTE_CAST", "VIDEO_ADDED"}
	if len(resp.Logs) != len(want) {
		t.Fatalf("logs = %+v", resp.Logs)
	}
	for i, w := range want {
		if resp.Logs[i].EventType != w {
			t.Errorf("logs[%d] = %s, want %s", i, resp.Logs[i].EventType, w)
		}
	}
	if resp.Logs[1].Details != "1.1.1.1" || resp.Logs[1].Description != "A" {
		t.Errorf("vote event = %+v", resp.Logs[1])
	}
}

func TestHandleLogs_CapsAtThirty(t *testing.T) {
	h := newTestHandler(t)
	for i := 0; i < 25; i++ {
		url := "https://youtu.be/" + string(rune('a'+i))
		id := dbtest.InsertVideo(t, h.DB, "youtube", url, url, "t")
		dbtest.InsertVote(t, h.DB, id, "1.1.1.1", "")
	}
	events, err := h.RecentEvents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != maxLogEvents {
		t.Errorf("events = %d, want %d", len(events), maxLogEvents)
	}
}

func TestAPIKeys(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.HandleUpdateKey(rec, withChiParam(jsonRequest("PUT", "/", map[string]string{"value": "gsk_1234567890"}), "name", "groq"))
	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := decodeJSON(t, rec)["masked"]; got != "gsk_******7890" {
		t.Errorf("masked = %v", got)
	}
	if got := lastAction(t, h); got != activity.APIKeyUpdated {
		t.Errorf("activity = %q", got)
	}

	rec = httptest.NewRecorder()
	h.HandleUpdateKey(rec, withChiParam(jsonRequest("PUT", "/", map[string]string{"value": "super-secret-value"}), "name", "jwt"))
	if got := decodeJSON(t, rec)["masked"]; got != "***************" {
		t.Errorf("jwt masked = %v", got)
	}

	for name, body := range map[string]map[string]string{
		"openai": {"value": "x"},
		"groq":   {"value": " "},
	} {
		rec = httptest.NewRecorder()
		h.HandleUpdateKey(rec, withChiParam(jsonRequest("PUT", "/", body), "name", name))
		if rec.Code != 400 {
			t.Errorf("%s %v status = %d, want 400", name, body, rec.Code)
		}
	}

	rec = httptest.NewRecorder()
	h.HandleListKeys(rec, httptest.NewRequest("GET", "/api/admin/api-keys", nil))
	var keys map[string]settings.KeyStatus
	json.NewDecoder(rec.Body).Decode(&keys)
	if !keys["groq"].Configured || keys["groq"].Masked != "gsk_******7890" {
		t.Errorf("groq = %+v", keys["groq"])
	}
	if keys["tiktok1"].Configured || keys["tiktok1"].Host != settings.DefaultTikTokHost1 {
		t.Errorf("tiktok1 = %+v", keys["tiktok1"])
	}
}

func TestHandleTestKey(t *testing.T) {
	h := newTestHandler(t)
	prober := h.Scrapers.(*fakeProber)

	tests := []struct {
		name    string
		llm     fakeLLM
		status  int
		success bool
	}{
		{"groq", fakeLLM{configured: true}, 200, true},
		{"groq", fakeLLM{configured: true, err: errors.New("status=401")}, 200, false},
		{"groq", fakeLLM{}, 200, false},
		{"youtube", fakeLLM{}, 200, true},
		{"jwt", fakeLLM{}, 400, false},
		{"openai", fakeLLM{}, 400, false},
	}
	for _, tt := range tests {
		h.LLM = tt.llm
		rec := httptest.NewRecorder()
		h.HandleTestKey(rec, withChiParam(httptest.NewRequest("POST", "/", nil), "name", tt.name))
		if rec.Code != tt.status {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, tt.status)
			continue
		}
		if tt.status == 200 {
			if got := decodeJSON(t, rec)["success"]; got != tt.success {
				t.Errorf("%s: success = %v, want %v", tt.name, got, tt.success)
			}
		}
	}
	if len(prober.names) != 2 || prober.names[0] != "youtube" {
		t.Errorf("scraper probes = %v, want youtube then openai", prober.names)
	}
}

func TestHandleKeyStats(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()
	h.Activity.Record(ctx, activity.TriviaGenerated, nil, "", "")
	h.Activity.Record(ctx, activity.ChatMessage, nil, "", "")
	h.Activity.Record(ctx, activity.VideoDeleted, nil, "", "")

	rec := httptest.NewRecorder()
	h.HandleKeyStats(rec, httptest.NewRequest("GET", "/api/admin/api-keys/stats", nil))
	groq, _ := decodeJSON(t, rec)["groq"].(map[string]interface{})
	if groq["total"] != float64(2) {
		t.Errorf("groq stats = %v", groq)
	}
	days, _ := groq["last7Days"].([]interface{})
	if len(days) != 1 {
		t.Errorf("last7Days = %v", days)
	}
}
