package activitypub

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SamR1/fittrackee-federation/domain"
	"github.com/SamR1/fittrackee-federation/util"
	"github.com/google/uuid"
)

func newTestDirectory(t *testing.T) (*Directory, *fixture) {
	t.Helper()
	f := newFixture(t)
	conf := &util.AppConfig{}
	conf.Conf.Domain = "example.com"
	conf.Conf.WithFederation = true
	return NewDirectory(f.database, conf), f
}

func TestLocalActorURI(t *testing.T) {
	directory, _ := newTestDirectory(t)

	got := directory.LocalActorURI("alice")
	if got != "https://example.com/federation/user/alice" {
		t.Errorf("LocalActorURI = %s", got)
	}
	if directory.SharedInboxURI() != "https://example.com/federation/inbox" {
		t.Errorf("SharedInboxURI = %s", directory.SharedInboxURI())
	}
}

func TestEnsureLocalDomainIdempotent(t *testing.T) {
	directory, _ := newTestDirectory(t)

	first, err := directory.EnsureLocalDomain()
	if err != nil {
		t.Fatalf("EnsureLocalDomain failed: %v", err)
	}
	second, err := directory.EnsureLocalDomain()
	if err != nil {
		t.Fatalf("EnsureLocalDomain failed: %v", err)
	}
	if first.Id != second.Id {
		t.Error("EnsureLocalDomain should reuse the existing domain")
	}
}

func TestCreateLocalActor(t *testing.T) {
	directory, f := newTestDirectory(t)

	actor, err := directory.CreateLocalActor("carol", "carol@example.com")
	if err != nil {
		t.Fatalf("CreateLocalActor failed: %v", err)
	}
	if !actor.IsLocal() {
		t.Error("created actor should have a private key")
	}
	if actor.ActivityPubId != "https://example.com/federation/user/carol" {
		t.Errorf("activitypub id = %s", actor.ActivityPubId)
	}
	if actor.SharedInboxURL != "https://example.com/federation/inbox" {
		t.Errorf("shared inbox = %s", actor.SharedInboxURL)
	}

	err2, user := f.database.ReadUserByUsername("carol")
	if err2 != nil {
		t.Fatalf("user was not created: %v", err2)
	}
	if user.IsRemote {
		t.Error("local user should not be remote")
	}

	// keys parse back
	if _, err := ParsePrivateKey(actor.PrivateKey); err != nil {
		t.Errorf("generated private key does not parse: %v", err)
	}
	if _, err := ParsePublicKey(actor.PublicKey); err != nil {
		t.Errorf("generated public key does not parse: %v", err)
	}
}

func TestEnsureInstanceActorIdempotent(t *testing.T) {
	directory, _ := newTestDirectory(t)

	first, err := directory.EnsureInstanceActor()
	if err != nil {
		t.Fatalf("EnsureInstanceActor failed: %v", err)
	}
	if first.Type != domain.ActorTypeApplication {
		t.Errorf("instance actor type = %s, want Application", first.Type)
	}
	if !first.IsLocal() {
		t.Error("instance actor should have a private key")
	}

	second, err := directory.EnsureInstanceActor()
	if err != nil {
		t.Fatalf("EnsureInstanceActor failed: %v", err)
	}
	if first.Id != second.Id {
		t.Error("EnsureInstanceActor should reuse the existing actor")
	}
}

func TestGetOrCreateRemoteDomain(t *testing.T) {
	directory, _ := newTestDirectory(t)

	created, err := directory.GetOrCreateRemoteDomain("other.example")
	if err != nil {
		t.Fatalf("GetOrCreateRemoteDomain failed: %v", err)
	}
	if created.IsLocal {
		t.Error("remote domain should not be local")
	}

	again, err := directory.GetOrCreateRemoteDomain("other.example")
	if err != nil {
		t.Fatalf("GetOrCreateRemoteDomain failed: %v", err)
	}
	if created.Id != again.Id {
		t.Error("existing domain should be reused")
	}
}

func TestGetOrCreateRemoteDomainBlocked(t *testing.T) {
	directory, f := newTestDirectory(t)

	blocked := &domain.Domain{Id: uuid.New(), Name: "blocked.example", CreatedAt: time.Now(), IsAllowed: false}
	if err := f.database.CreateDomain(blocked); err != nil {
		t.Fatalf("CreateDomain failed: %v", err)
	}

	if _, err := directory.GetOrCreateRemoteDomain("blocked.example"); err != ErrDomainNotAllowed {
		t.Errorf("GetOrCreateRemoteDomain = %v, want ErrDomainNotAllowed", err)
	}
}

func TestFetchActorDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/activity+json" {
			t.Errorf("Accept = %s", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/activity+json")
		fmt.Fprint(w, `{
			"id": "https://remote.social/users/eve",
			"type": "Person",
			"preferredUsername": "eve",
			"inbox": "https://remote.social/users/eve/inbox",
			"publicKey": {"id": "https://remote.social/users/eve#main-key", "owner": "https://remote.social/users/eve", "publicKeyPem": "pem"},
			"endpoints": {"sharedInbox": "https://remote.social/inbox"}
		}`)
	}))
	defer server.Close()

	directory, _ := newTestDirectory(t)
	doc, err := directory.FetchActorDocument(server.URL)
	if err != nil {
		t.Fatalf("FetchActorDocument failed: %v", err)
	}
	if doc.PreferredUsername != "eve" {
		t.Errorf("preferredUsername = %s", doc.PreferredUsername)
	}
	if doc.Endpoints.SharedInbox != "https://remote.social/inbox" {
		t.Errorf("sharedInbox = %s", doc.Endpoints.SharedInbox)
	}
}

func TestFetchActorDocumentMissingFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// no inbox, no public key
		fmt.Fprint(w, `{"id": "https://remote.social/users/eve", "type": "Person", "preferredUsername": "eve"}`)
	}))
	defer server.Close()

	directory, _ := newTestDirectory(t)
	_, err := directory.FetchActorDocument(server.URL)
	if _, ok := err.(*RemoteActorFetchError); !ok {
		t.Errorf("FetchActorDocument = %v, want RemoteActorFetchError", err)
	}
}

func TestResolveUserFromHandleLocal(t *testing.T) {
	directory, f := newTestDirectory(t)

	tests := []string{"alice", "@alice", "alice@example.com", "@alice@example.com"}
	for _, handle := range tests {
		t.Run(handle, func(t *testing.T) {
			user, actor, err := directory.ResolveUserFromHandle(handle, ResolveActionNone)
			if err != nil {
				t.Fatalf("ResolveUserFromHandle failed: %v", err)
			}
			if user.Id != f.localUser.Id {
				t.Error("resolved user should be the local user")
			}
			if actor.Id != f.localActor.Id {
				t.Error("resolved actor should be the local actor")
			}
		})
	}
}

func TestResolveUserFromHandleUnknownLocal(t *testing.T) {
	directory, _ := newTestDirectory(t)

	// local-domain handles never trigger discovery, whatever the action
	for _, action := range []ResolveAction{ResolveActionNone, ResolveActionCreation, ResolveActionRefresh} {
		if _, _, err := directory.ResolveUserFromHandle("nobody", action); err != ErrUserNotFound {
			t.Errorf("ResolveUserFromHandle(%s) = %v, want ErrUserNotFound", action, err)
		}
	}
}

func TestResolveUserFromHandleCachedRemote(t *testing.T) {
	directory, f := newTestDirectory(t)

	// bob is cached, action none must not go over the wire (the stored
	// activitypub id is not reachable)
	user, actor, err := directory.ResolveUserFromHandle("bob@remote.social", ResolveActionNone)
	if err != nil {
		t.Fatalf("ResolveUserFromHandle failed: %v", err)
	}
	if user.Id != f.remoteUser.Id {
		t.Error("resolved user should be the cached remote user")
	}
	if actor.Id != f.remoteActor.Id {
		t.Error("resolved actor should be the cached remote actor")
	}
}

func TestResolveUserFromHandleUnknownRemoteWithoutCreation(t *testing.T) {
	directory, _ := newTestDirectory(t)

	for _, action := range []ResolveAction{ResolveActionNone, ResolveActionRefresh} {
		if _, _, err := directory.ResolveUserFromHandle("nobody@remote.social", action); err != ErrUserNotFound {
			t.Errorf("ResolveUserFromHandle(%s) = %v, want ErrUserNotFound", action, err)
		}
	}
}

func TestResolveUserFromHandleWebfingerNoSelfLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/webfinger" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/jrd+json")
		fmt.Fprint(w, `{
			"subject": "acct:eve@remote.social",
			"links": [{"rel": "http://webfinger.net/rel/profile-page", "href": "https://remote.social/@eve"}]
		}`)
	}))
	defer server.Close()

	directory, f := newTestDirectory(t)
	directory.scheme = "http"
	host := strings.TrimPrefix(server.URL, "http://")

	_, _, err := directory.ResolveUserFromHandle("eve@"+host, ResolveActionCreation)
	fetchErr, ok := err.(*RemoteActorFetchError)
	if !ok {
		t.Fatalf("ResolveUserFromHandle = %v, want RemoteActorFetchError", err)
	}
	if fetchErr.Reason != "no self link in webfinger response" {
		t.Errorf("reason = %s", fetchErr.Reason)
	}

	// the failed resolution must leave no trace behind
	if readErr, _ := f.database.ReadUserByUsername("eve@" + host); readErr == nil {
		t.Error("no user row should exist after a failed webfinger resolution")
	}
	if readErr, _ := f.database.ReadDomainByName(host); readErr == nil {
		t.Error("no domain row should exist after a failed webfinger resolution")
	}
}

func TestGetOrFetchActorUsesFreshCache(t *testing.T) {
	directory, f := newTestDirectory(t)

	// remote actor is fresh, no fetch should happen (the stored
	// activitypub id is not reachable)
	actor, err := directory.GetOrFetchActor(f.remoteActor.ActivityPubId)
	if err != nil {
		t.Fatalf("GetOrFetchActor failed: %v", err)
	}
	if actor.Id != f.remoteActor.Id {
		t.Error("cached actor should be returned")
	}
}

func TestExtractHost(t *testing.T) {
	host, err := extractHost("https://mastodon.social/users/alice")
	if err != nil {
		t.Fatalf("extractHost failed: %v", err)
	}
	if host != "mastodon.social" {
		t.Errorf("host = %s", host)
	}

	if _, err := extractHost("not-a-uri"); err == nil {
		t.Error("expected error for URI without host")
	}
}

func TestUsernameFromActorURI(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{uri: "https://example.com/federation/user/alice", want: "alice"},
		{uri: "https://example.com/federation/user/alice/", want: "alice"},
		{uri: "https://example.com/@alice", want: "alice"},
		{uri: "", want: ""},
	}
	for _, tt := range tests {
		if got := usernameFromActorURI(tt.uri); got != tt.want {
			t.Errorf("usernameFromActorURI(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}
