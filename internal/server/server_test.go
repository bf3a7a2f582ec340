package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pawmap/internal/adapter/storage"
	"pawmap/internal/config"
	"pawmap/internal/domain/place"
)

type stubSearcher struct {
	places map[place.Category][]place.Place
}

func (s stubSearcher) Search(ctx context.Context, category place.Category) ([]place.Place, error) {
	return s.places[category], nil
}

func newTestServer(t *testing.T) (*httptest.Server, *storage.MemoryStore) {
	t.Helper()
	docs := storage.NewMemoryStore()
	images := storage.NewImageStore(docs, "", 1<<20)

	srv := NewServer(config.ServerConfig{CorsOrigins: []string{"*"}}, Dependencies{
		MessageStore: storage.NewMessageStore(docs),
		PlaceStore:   storage.NewPlaceStore(docs),
		Searcher: stubSearcher{places: map[place.Category][]place.Place{
			place.CategoryPark: {{ID: "g-park", Name: "Cal Anderson", Category: place.CategoryPark, Lat: 47.617, Lng: -122.319, Source: place.SourceExternal}},
			place.CategoryCafe: {{ID: "g-cafe", Name: "Bark Cafe", Category: place.CategoryCafe, Lat: 47.61, Lng: -122.33, Source: place.SourceExternal}},
		}},
		Uploader:     images,
		Images:       images,
		FeedConfig:   config.FeedConfig{MaxMessages: 100, MaxMessageLength: 20},
		PlacesConfig: config.PlacesConfig{FetchLimit: 80},
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, docs
}

func post(t *testing.T, url, userID, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
		req.Header.Set(HeaderUserName, "Tester")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSendMessage_StatusCodes(t *testing.T) {
	ts, _ := newTestServer(t)
	url := ts.URL + "/api/v1/messages"

	tests := []struct {
		name   string
		userID string
		body   string
		want   int
	}{
		{"anonymous", "", `{"text":"hi"}`, http.StatusUnauthorized},
		{"blank", "u1", `{"text":"   "}`, http.StatusBadRequest},
		{"too long", "u1", `{"text":"` + strings.Repeat("w", 21) + `"}`, http.StatusBadRequest},
		{"bad json", "u1", `{`, http.StatusBadRequest},
		{"ok", "u1", `{"text":"woof"}`, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, url, tt.userID, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestListPlaces_FiltersByCategoryAndViewport(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := post(t, ts.URL+"/api/v1/places", "u1", `{"name":"Volunteer Park","category":"park","lat":"47.63","lng":"-122.315"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	get := func(query string) placesBody {
		t.Helper()
		resp, err := http.Get(ts.URL + "/api/v1/places" + query)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 for %q, got %d", query, resp.StatusCode)
		}
		var body placesBody
		decodeBody(t, resp, &body)
		return body
	}

	all := get("")
	if len(all.Places) != 2 {
		t.Fatalf("expected user and external park, got %+v", all.Places)
	}
	if all.Places[0].Source != place.SourceUser || all.Places[1].Source != place.SourceExternal {
		t.Errorf("user places should come first: %+v", all.Places)
	}

	cafes := get("?category=cafe")
	if len(cafes.Places) != 1 || cafes.Places[0].ID != "g-cafe" {
		t.Errorf("expected only the cafe, got %+v", cafes.Places)
	}

	narrow := get("?lat=47.63&lng=-122.315&latSpan=0.002&lngSpan=0.002")
	if len(narrow.Places) != 1 || narrow.Places[0].Name != "Volunteer Park" {
		t.Errorf("expected only the place inside the viewport, got %+v", narrow.Places)
	}
}

type placesBody struct {
	Filter string        `json:"filter"`
	Places []place.Place `json:"places"`
}

func TestListPlaces_RejectsBadQuery(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, query := range []string{"?category=zoo", "?lat=1&lng=2", "?lat=a&lng=2&latSpan=1&lngSpan=1"} {
		resp, err := http.Get(ts.URL + "/api/v1/places" + query)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", query, resp.StatusCode)
		}
	}
}

func TestSubmitPlace_InvalidDraftNamesField(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := post(t, ts.URL+"/api/v1/places", "u1", `{"name":"Park","lat":"north","lng":"-122.3"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["field"] != "lat" {
		t.Errorf("expected field lat, got %v", body)
	}
}

func TestSubmitPlace_WithImageServesUpload(t *testing.T) {
	ts, docs := newTestServer(t)
	png := []byte("\x89PNG\r\n\x1a\nimagebytes")

	resp := post(t, ts.URL+"/api/v1/places", "u1",
		`{"name":"Photo Park","lat":"47.6","lng":"-122.3","image":"`+base64.StdEncoding.EncodeToString(png)+`"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created map[string]string
	decodeBody(t, resp, &created)

	stored, err := docs.Get(context.Background(), storage.PlacesCollection, created["id"])
	if err != nil {
		t.Fatalf("get stored place: %v", err)
	}
	photoURL, _ := stored.Fields["photoUrl"].(string)
	if !strings.HasPrefix(photoURL, "/api/v1/images/") {
		t.Fatalf("expected image URL, got %q", photoURL)
	}

	imgResp, err := http.Get(ts.URL + photoURL)
	if err != nil {
		t.Fatalf("get image: %v", err)
	}
	defer imgResp.Body.Close()
	if imgResp.StatusCode != http.StatusOK || imgResp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("unexpected image response %d %s", imgResp.StatusCode, imgResp.Header.Get("Content-Type"))
	}
}

func TestGetImage_UnknownIsNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/images/does-not-exist")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

type frame struct {
	Type     string         `json:"type"`
	Messages []frameMessage `json:"messages"`
	Places   []place.Place  `json:"places"`
	Error    string         `json:"error"`
	Field    string         `json:"field"`
	ID       string         `json:"id"`
}

func hasPlaceNamed(places []place.Place, name string) bool {
	for _, p := range places {
		if p.Name == name {
			return true
		}
	}
	return false
}

type frameMessage struct {
	Text       string `json:"text"`
	AuthorName string `json:"authorName"`
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if match(f) {
			return f
		}
	}
}

func TestFeedWebSocket_StreamsMessages(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts, "/ws/feed?user_id=u1&user_name=Rex")

	readFrame(t, conn, func(f frame) bool { return f.Type == "messages" && len(f.Messages) == 0 })

	if err := conn.WriteJSON(map[string]string{"type": "message", "text": "sit"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readFrame(t, conn, func(f frame) bool { return f.Type == "messages" && len(f.Messages) == 1 })
	if f.Messages[0].Text != "sit" || f.Messages[0].AuthorName != "Rex" {
		t.Errorf("unexpected message %+v", f.Messages[0])
	}

	resp := post(t, ts.URL+"/api/v1/messages", "u2", `{"text":"stay"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	f = readFrame(t, conn, func(f frame) bool { return f.Type == "messages" && len(f.Messages) == 2 })
	if f.Messages[1].Text != "stay" {
		t.Errorf("newest message should be last, got %+v", f.Messages)
	}
}

func TestFeedWebSocket_AnonymousSendGetsError(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts, "/ws/feed")

	readFrame(t, conn, func(f frame) bool { return f.Type == "messages" })
	if err := conn.WriteJSON(map[string]string{"type": "message", "text": "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readFrame(t, conn, func(f frame) bool { return f.Type == "error" })
	if f.Error == "" {
		t.Error("expected an error message")
	}
}

func TestFeedWebSocket_DisconnectIsReported(t *testing.T) {
	ts, docs := newTestServer(t)
	conn := dial(t, ts, "/ws/feed?user_id=u1")

	readFrame(t, conn, func(f frame) bool { return f.Type == "messages" })
	docs.Disconnect(storage.MessagesCollection, errors.New("listener dropped"))
	readFrame(t, conn, func(f frame) bool { return f.Type == "disconnected" })
}

func TestPlacesWebSocket_CategoryAndViewport(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts, "/ws/places")

	readFrame(t, conn, func(f frame) bool { return f.Type == "places" && len(f.Places) == 1 && f.Places[0].ID == "g-park" })

	if err := conn.WriteJSON(map[string]string{"type": "category", "category": "cafe"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readFrame(t, conn, func(f frame) bool { return f.Type == "places" && len(f.Places) == 1 && f.Places[0].ID == "g-cafe" })

	viewport := map[string]interface{}{
		"type":     "viewport",
		"viewport": map[string]float64{"centerLat": 0, "centerLng": 0, "latSpan": 1, "lngSpan": 1},
	}
	if err := conn.WriteJSON(viewport); err != nil {
		t.Fatalf("write: %v", err)
	}
	readFrame(t, conn, func(f frame) bool { return f.Type == "places" && len(f.Places) == 0 })
}

func TestPlacesWebSocket_SeesPlaceSubmittedOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts, "/ws/places")

	readFrame(t, conn, func(f frame) bool { return f.Type == "places" && len(f.Places) == 1 && f.Places[0].ID == "g-park" })

	resp := post(t, ts.URL+"/api/v1/places", "u1", `{"name":"Corgi Commons","lat":"47.6","lng":"-122.3"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	f := readFrame(t, conn, func(f frame) bool { return f.Type == "places" && hasPlaceNamed(f.Places, "Corgi Commons") })
	if !hasPlaceNamed(f.Places, "Cal Anderson") {
		t.Errorf("external places should stay in the view, got %+v", f.Places)
	}
}

func TestPlacesWebSocket_SubmitFrame(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts, "/ws/places?user_id=u1")

	readFrame(t, conn, func(f frame) bool { return f.Type == "places" && len(f.Places) == 1 })

	invalid := map[string]interface{}{
		"type":  "submit",
		"place": map[string]string{"name": " ", "lat": "47.61", "lng": "-122.31"},
	}
	if err := conn.WriteJSON(invalid); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readFrame(t, conn, func(f frame) bool { return f.Type == "error" })
	if f.Field != "name" {
		t.Errorf("expected field name, got %+v", f)
	}

	valid := map[string]interface{}{
		"type":  "submit",
		"place": map[string]string{"name": "Doodle Dell", "lat": "47.61", "lng": "-122.31", "category": "park"},
	}
	if err := conn.WriteJSON(valid); err != nil {
		t.Fatalf("write: %v", err)
	}
	readFrame(t, conn, func(f frame) bool { return f.Type == "places" && hasPlaceNamed(f.Places, "Doodle Dell") })
}
