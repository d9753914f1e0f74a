package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SamR1/fittrackee-federation/activitypub"
	"github.com/SamR1/fittrackee-federation/db"
	"github.com/SamR1/fittrackee-federation/domain"
	"github.com/SamR1/fittrackee-federation/util"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type testServer struct {
	server *Server
	engine *gin.Engine

	localUser  *domain.User
	localActor *domain.Actor
}

func newTestServer(t *testing.T, withFederation bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	conf := &util.AppConfig{}
	conf.Conf.Host = "127.0.0.1"
	conf.Conf.HttpPort = 5000
	conf.Conf.Domain = "example.com"
	conf.Conf.WithFederation = withFederation
	conf.Conf.OpenRegistration = true
	conf.Conf.ApiKey = "test-key"

	localDomain := &domain.Domain{Id: uuid.New(), Name: "example.com", CreatedAt: time.Now(), IsAllowed: true, IsLocal: true}
	if err := database.CreateDomain(localDomain); err != nil {
		t.Fatalf("CreateDomain failed: %v", err)
	}

	user := &domain.User{Id: uuid.New(), Username: "alice", CreatedAt: time.Now()}
	if err := database.CreateUser(user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	keys := util.GeneratePemKeypair()
	actor := &domain.Actor{
		Id:                uuid.New(),
		ActivityPubId:     "https://example.com/federation/user/alice",
		DomainId:          localDomain.Id,
		UserId:            user.Id,
		PreferredUsername: "alice",
		Type:              domain.ActorTypePerson,
		PublicKey:         keys.Public,
		PrivateKey:        keys.Private,
		ProfileURL:        "https://example.com/users/alice",
		InboxURL:          "https://example.com/federation/user/alice/inbox",
		OutboxURL:         "https://example.com/federation/user/alice/outbox",
		FollowersURL:      "https://example.com/federation/user/alice/followers",
		FollowingURL:      "https://example.com/federation/user/alice/following",
		SharedInboxURL:    "https://example.com/federation/inbox",
		CreatedAt:         time.Now(),
	}
	if err := database.CreateActor(actor); err != nil {
		t.Fatalf("CreateActor failed: %v", err)
	}

	directory := activitypub.NewDirectory(database, conf)
	sender := activitypub.NewSender(database, conf)
	dispatcher := activitypub.NewDispatcher(database, conf, directory, sender)

	queues := activitypub.NewQueues()
	queues.Register(activitypub.QueueInbox, 1, 16, dispatcher.Dispatch)
	t.Cleanup(queues.Stop)

	gateway := activitypub.NewGateway(database, conf, directory, queues)

	server := &Server{
		Database:   database,
		Conf:       conf,
		Directory:  directory,
		Dispatcher: dispatcher,
		Gateway:    gateway,
	}
	return &testServer{
		server:     server,
		engine:     NewRouter(server),
		localUser:  user,
		localActor: actor,
	}
}

func (ts *testServer) request(method string, target string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	ts.engine.ServeHTTP(recorder, req)
	return recorder
}

func TestWebfingerFound(t *testing.T) {
	ts := newTestServer(t, true)

	resp := ts.request("GET", "/.well-known/webfinger?resource=acct:alice@example.com", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}

	var resource WebfingerResource
	if err := json.Unmarshal(resp.Body.Bytes(), &resource); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resource.Subject != "acct:alice@example.com" {
		t.Errorf("subject = %s", resource.Subject)
	}

	var selfLink string
	for _, link := range resource.Links {
		if link.Rel == "self" {
			selfLink = link.Href
		}
	}
	if selfLink != "https://example.com/federation/user/alice" {
		t.Errorf("self link = %s", selfLink)
	}
}

func TestWebfingerUnknownUser(t *testing.T) {
	ts := newTestServer(t, true)

	resp := ts.request("GET", "/.well-known/webfinger?resource=acct:ghost@example.com", "", nil)
	if resp.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.Code)
	}
}

func TestWebfingerInvalidResource(t *testing.T) {
	ts := newTestServer(t, true)

	resp := ts.request("GET", "/.well-known/webfinger?resource=alice", "", nil)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.Code)
	}
}

func TestFederationDisabled(t *testing.T) {
	ts := newTestServer(t, false)

	routes := []struct {
		method string
		target string
	}{
		{method: "GET", target: "/.well-known/webfinger?resource=acct:alice@example.com"},
		{method: "GET", target: "/federation/user/alice"},
		{method: "POST", target: "/federation/inbox"},
		{method: "GET", target: "/nodeinfo/2.0"},
	}
	for _, route := range routes {
		resp := ts.request(route.method, route.target, "", nil)
		if resp.Code != http.StatusForbidden {
			t.Errorf("%s %s: status = %d, want 403", route.method, route.target, resp.Code)
		}
	}
}

func TestActorDocument(t *testing.T) {
	ts := newTestServer(t, true)

	resp := ts.request("GET", "/federation/user/alice", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}

	var doc ActorDocument
	if err := json.Unmarshal(resp.Body.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse actor document: %v", err)
	}
	if doc.PreferredUsername != "alice" {
		t.Errorf("preferredUsername = %s", doc.PreferredUsername)
	}
	if doc.PublicKey.PublicKeyPem == "" {
		t.Error("public key missing from actor document")
	}
	if doc.PublicKey.ID != "https://example.com/federation/user/alice#main-key" {
		t.Errorf("key id = %s", doc.PublicKey.ID)
	}
	if strings.Contains(resp.Body.String(), "PRIVATE KEY") {
		t.Error("actor document must not leak the private key")
	}
	if doc.Endpoints.SharedInbox != "https://example.com/federation/inbox" {
		t.Errorf("shared inbox = %s", doc.Endpoints.SharedInbox)
	}
}

func TestActorDocumentUnknownUser(t *testing.T) {
	ts := newTestServer(t, true)

	resp := ts.request("GET", "/federation/user/ghost", "", nil)
	if resp.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.Code)
	}
}

func TestNodeInfo(t *testing.T) {
	ts := newTestServer(t, true)

	resp := ts.request("GET", "/.well-known/nodeinfo", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "/nodeinfo/2.0") {
		t.Error("discovery should link to the 2.0 document")
	}

	resp = ts.request("GET", "/nodeinfo/2.0", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}

	var nodeInfo NodeInfo
	if err := json.Unmarshal(resp.Body.Bytes(), &nodeInfo); err != nil {
		t.Fatalf("failed to parse nodeinfo: %v", err)
	}
	if nodeInfo.Software.Name != util.Name {
		t.Errorf("software name = %s", nodeInfo.Software.Name)
	}
	if nodeInfo.Usage.Users.Total != 1 {
		t.Errorf("users = %d, want 1", nodeInfo.Usage.Users.Total)
	}
	if !nodeInfo.OpenRegistrations {
		t.Error("open registrations should be reported")
	}
}

func TestInboxInvalidPayload(t *testing.T) {
	ts := newTestServer(t, true)

	resp := ts.request("POST", "/federation/inbox", "not json", map[string]string{
		"Content-Type": "application/activity+json",
	})
	if resp.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.Code)
	}
}

func TestInboxMissingSignature(t *testing.T) {
	ts := newTestServer(t, true)

	body := `{"type":"Follow","actor":"https://remote.social/users/bob","object":"https://example.com/federation/user/alice"}`
	resp := ts.request("POST", "/federation/inbox", body, map[string]string{
		"Content-Type": "application/activity+json",
	})
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.Code)
	}
}

func TestInboxUnsupportedActivity(t *testing.T) {
	ts := newTestServer(t, true)

	body := `{"type":"Like","actor":"https://remote.social/users/bob","object":"x"}`
	resp := ts.request("POST", "/federation/user/alice/inbox", body, map[string]string{
		"Content-Type": "application/activity+json",
	})
	if resp.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.Code)
	}
}

func TestRemoteUserRequiresApiKey(t *testing.T) {
	ts := newTestServer(t, true)

	body := `{"actor_url":"bob@remote.social"}`
	resp := ts.request("POST", "/federation/remote-user", body, map[string]string{
		"Content-Type": "application/json",
	})
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("status without key = %d, want 401", resp.Code)
	}

	resp = ts.request("POST", "/federation/remote-user", body, map[string]string{
		"Content-Type": "application/json",
		"X-Api-Key":    "wrong",
	})
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("status with wrong key = %d, want 401", resp.Code)
	}
}

func TestFollowActionValidation(t *testing.T) {
	ts := newTestServer(t, true)

	resp := ts.request("POST", "/federation/follow", `{}`, map[string]string{
		"Content-Type": "application/json",
		"X-Api-Key":    "test-key",
	})
	if resp.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.Code)
	}

	resp = ts.request("POST", "/federation/unfollow",
		`{"username":"alice","actor_url":"https://remote.social/users/ghost"}`,
		map[string]string{
			"Content-Type": "application/json",
			"X-Api-Key":    "test-key",
		})
	if resp.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.Code)
	}
}

func TestCollections(t *testing.T) {
	ts := newTestServer(t, true)

	for _, target := range []string{
		"/federation/user/alice/followers",
		"/federation/user/alice/following",
		"/federation/user/alice/outbox",
	} {
		resp := ts.request("GET", target, "", nil)
		if resp.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", target, resp.Code)
			continue
		}
		var collection OrderedCollection
		if err := json.Unmarshal(resp.Body.Bytes(), &collection); err != nil {
			t.Errorf("%s: failed to parse collection: %v", target, err)
		}
		if collection.Type != "OrderedCollection" {
			t.Errorf("%s: type = %s", target, collection.Type)
		}
	}
}

func TestRSSFeed(t *testing.T) {
	ts := newTestServer(t, true)

	workout := &domain.Workout{
		Id:          uuid.New(),
		UserId:      ts.localUser.Id,
		SportId:     1,
		Title:       "Sunday long run",
		WorkoutDate: time.Now(),
		Distance:    21.1,
		Duration:    7200,
		Visibility:  domain.VisibilityPublic,
		CreatedAt:   time.Now(),
	}
	if err := ts.server.Database.CreateWorkout(workout); err != nil {
		t.Fatalf("CreateWorkout failed: %v", err)
	}

	resp := ts.request("GET", "/feed", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "Sunday long run") {
		t.Error("feed should contain the public workout")
	}
}

func TestMaxBytesMiddleware(t *testing.T) {
	ts := newTestServer(t, true)

	body := strings.Repeat("x", 2*1024*1024)
	resp := ts.request("POST", "/federation/inbox", body, map[string]string{
		"Content-Type": "application/activity+json",
	})
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.Code)
	}
}
