package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SamR1/fittrackee-federation/db"
	"github.com/SamR1/fittrackee-federation/domain"
	"github.com/SamR1/fittrackee-federation/util"
	"github.com/google/uuid"
)

// actorCacheTTL is how long a cached remote actor is considered fresh.
const actorCacheTTL = 24 * time.Hour

// ActorDocument represents the JSON structure of an ActivityPub actor
type ActorDocument struct {
	Context                   interface{} `json:"@context"`
	ID                        string      `json:"id"`
	Type                      string      `json:"type"`
	PreferredUsername         string      `json:"preferredUsername"`
	Name                      string      `json:"name,omitempty"`
	URL                       string      `json:"url,omitempty"`
	Inbox                     string      `json:"inbox"`
	Outbox                    string      `json:"outbox,omitempty"`
	Followers                 string      `json:"followers,omitempty"`
	Following                 string      `json:"following,omitempty"`
	ManuallyApprovesFollowers bool        `json:"manuallyApprovesFollowers"`
	PublicKey                 struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
	Endpoints struct {
		SharedInbox string `json:"sharedInbox,omitempty"`
	} `json:"endpoints,omitempty"`
}

// WebfingerResponse is the answer of a /.well-known/webfinger lookup.
type WebfingerResponse struct {
	Subject string   `json:"subject"`
	Aliases []string `json:"aliases,omitempty"`
	Links   []struct {
		Rel  string `json:"rel"`
		Type string `json:"type,omitempty"`
		Href string `json:"href,omitempty"`
	} `json:"links"`
}

// Directory resolves, caches and creates actors, both local and remote.
type Directory struct {
	database *db.DB
	conf     *util.AppConfig
	client   *http.Client

	// scheme used for discovery lookups, tests override it to reach
	// plain-http servers
	scheme string
}

func NewDirectory(database *db.DB, conf *util.AppConfig) *Directory {
	return &Directory{
		database: database,
		conf:     conf,
		client:   &http.Client{Timeout: 30 * time.Second},
		scheme:   "https",
	}
}

// LocalActorURI builds the ActivityPub id of a local user.
func (d *Directory) LocalActorURI(username string) string {
	return fmt.Sprintf("https://%s/federation/user/%s", d.conf.Conf.Domain, username)
}

// SharedInboxURI is the instance-wide inbox for follower broadcasts.
func (d *Directory) SharedInboxURI() string {
	return fmt.Sprintf("https://%s/federation/inbox", d.conf.Conf.Domain)
}

// EnsureLocalDomain creates the local domain row on first start.
func (d *Directory) EnsureLocalDomain() (*domain.Domain, error) {
	err, existing := d.database.ReadLocalDomain()
	if err == nil {
		return existing, nil
	}

	localDomain := &domain.Domain{
		Id:              uuid.New(),
		Name:            d.conf.Conf.Domain,
		CreatedAt:       time.Now(),
		IsAllowed:       true,
		IsLocal:         true,
		SoftwareName:    util.Name,
		SoftwareVersion: util.GetVersion(),
	}
	if err := d.database.CreateDomain(localDomain); err != nil && err != db.ErrAlreadyExists {
		return nil, err
	}
	log.Printf("Directory: Created local domain %s", localDomain.Name)
	return localDomain, nil
}

// CreateLocalActor creates a user together with its actor and keypair.
// Keys are generated once at creation and never rotated.
func (d *Directory) CreateLocalActor(username string, email string) (*domain.Actor, error) {
	err, localDomain := d.database.ReadLocalDomain()
	if err != nil {
		return nil, fmt.Errorf("local domain not initialized: %w", err)
	}

	user := &domain.User{
		Id:        uuid.New(),
		Username:  username,
		Email:     email,
		CreatedAt: time.Now(),
	}
	if err := d.database.CreateUser(user); err != nil {
		return nil, err
	}

	keys := util.GeneratePemKeypair()
	actorURI := d.LocalActorURI(username)
	actor := &domain.Actor{
		Id:                uuid.New(),
		ActivityPubId:     actorURI,
		DomainId:          localDomain.Id,
		UserId:            user.Id,
		PreferredUsername: username,
		Name:              username,
		Type:              domain.ActorTypePerson,
		PublicKey:         keys.Public,
		PrivateKey:        keys.Private,
		ProfileURL:        fmt.Sprintf("https://%s/users/%s", d.conf.Conf.Domain, username),
		InboxURL:          actorURI + "/inbox",
		OutboxURL:         actorURI + "/outbox",
		FollowersURL:      actorURI + "/followers",
		FollowingURL:      actorURI + "/following",
		SharedInboxURL:    d.SharedInboxURI(),
		CreatedAt:         time.Now(),
	}
	if err := d.database.CreateActor(actor); err != nil {
		return nil, err
	}

	log.Printf("Directory: Created local actor %s", actor.ToString())
	return actor, nil
}

// EnsureInstanceActor creates the Application actor representing the
// instance itself. Idempotent, runs at every start.
func (d *Directory) EnsureInstanceActor() (*domain.Actor, error) {
	err, user := d.database.ReadUserByUsername(util.Name)
	if err == nil {
		readErr, actor := d.database.ReadActorByUserId(user.Id)
		if readErr == nil {
			return actor, nil
		}
	}

	actor, err := d.CreateLocalActor(util.Name, "")
	if err != nil {
		return nil, err
	}
	actor.Type = domain.ActorTypeApplication
	if err := d.database.UpdateActor(actor); err != nil {
		return nil, err
	}
	return actor, nil
}

// GetOrCreateRemoteDomain returns the domain row for a remote host,
// creating it on first contact. Instance software detection runs in the
// background, a failed nodeinfo lookup never blocks actor creation.
func (d *Directory) GetOrCreateRemoteDomain(name string) (*domain.Domain, error) {
	err, existing := d.database.ReadDomainByName(name)
	if err == nil {
		if existing.IsLocal {
			return nil, fmt.Errorf("domain %s is the local domain, not a remote one", name)
		}
		if !existing.IsAllowed {
			return nil, ErrDomainNotAllowed
		}
		return existing, nil
	}

	remoteDomain := &domain.Domain{
		Id:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now(),
		IsAllowed: true,
	}
	if err := d.database.CreateDomain(remoteDomain); err != nil {
		if err == db.ErrAlreadyExists {
			err, existing = d.database.ReadDomainByName(name)
			if err != nil {
				return nil, err
			}
			return existing, nil
		}
		return nil, err
	}

	go d.updateDomainSoftware(remoteDomain)

	return remoteDomain, nil
}

// updateDomainSoftware fetches nodeinfo for a freshly seen domain.
func (d *Directory) updateDomainSoftware(remoteDomain *domain.Domain) {
	name, version, err := d.fetchNodeInfo(remoteDomain.Name)
	if err != nil {
		log.Printf("Directory: Nodeinfo lookup failed for %s: %v", remoteDomain.Name, err)
		return
	}
	if err := d.database.UpdateDomainSoftware(remoteDomain.Id, name, version); err != nil {
		log.Printf("Directory: Failed to store software info for %s: %v", remoteDomain.Name, err)
		return
	}
	log.Printf("Directory: Domain %s runs %s %s", remoteDomain.Name, name, version)
}

// fetchNodeInfo discovers and fetches the nodeinfo document of a host.
func (d *Directory) fetchNodeInfo(host string) (string, string, error) {
	wellKnownURL := fmt.Sprintf("%s://%s/.well-known/nodeinfo", d.scheme, host)
	var discovery struct {
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := d.getJSON(wellKnownURL, "application/json", &discovery); err != nil {
		return "", "", err
	}

	var nodeInfoURL string
	for _, link := range discovery.Links {
		if strings.HasPrefix(link.Rel, "http://nodeinfo.diaspora.software/ns/schema/2") {
			nodeInfoURL = link.Href
		}
	}
	if nodeInfoURL == "" {
		return "", "", fmt.Errorf("no nodeinfo schema link found for %s", host)
	}

	var nodeInfo struct {
		Software struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"software"`
	}
	if err := d.getJSON(nodeInfoURL, "application/json", &nodeInfo); err != nil {
		return "", "", err
	}
	return nodeInfo.Software.Name, nodeInfo.Software.Version, nil
}

// Webfinger resolves a "user@domain" handle to an actor URI.
func (d *Directory) Webfinger(username string, host string) (string, error) {
	lookupURL := fmt.Sprintf("%s://%s/.well-known/webfinger?resource=acct:%s@%s",
		d.scheme, host, url.QueryEscape(username), host)

	var response WebfingerResponse
	if err := d.getJSON(lookupURL, "application/jrd+json", &response); err != nil {
		return "", &RemoteActorFetchError{
			ActorURI: username + "@" + host,
			Reason:   "webfinger lookup failed",
			Err:      err,
		}
	}

	for _, link := range response.Links {
		if link.Rel == "self" && link.Href != "" {
			return link.Href, nil
		}
	}
	return "", &RemoteActorFetchError{
		ActorURI: username + "@" + host,
		Reason:   "no self link in webfinger response",
	}
}

// FetchActorDocument fetches and validates a remote actor document.
func (d *Directory) FetchActorDocument(actorURI string) (*ActorDocument, error) {
	var doc ActorDocument
	if err := d.getJSON(actorURI, "application/activity+json", &doc); err != nil {
		return nil, &RemoteActorFetchError{ActorURI: actorURI, Reason: "fetch failed", Err: err}
	}

	// Mandatory fields. An actor we cannot verify or reach is useless.
	if doc.ID == "" || doc.Type == "" || doc.PreferredUsername == "" ||
		doc.Inbox == "" || doc.PublicKey.PublicKeyPem == "" {
		return nil, &RemoteActorFetchError{ActorURI: actorURI, Reason: "actor missing required fields"}
	}
	return &doc, nil
}

// CreateRemoteActor dereferences an actor URI and stores the actor, its
// domain and its shadow user. Remote usernames are stored fully
// qualified ("user@domain") to keep them unique across instances.
func (d *Directory) CreateRemoteActor(actorURI string) (*domain.Actor, error) {
	doc, err := d.FetchActorDocument(actorURI)
	if err != nil {
		return nil, err
	}

	host, err := extractHost(doc.ID)
	if err != nil {
		return nil, &RemoteActorFetchError{ActorURI: actorURI, Reason: "invalid actor id", Err: err}
	}

	remoteDomain, err := d.GetOrCreateRemoteDomain(host)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Id:                        uuid.New(),
		Username:                  doc.PreferredUsername + "@" + host,
		IsRemote:                  true,
		ManuallyApprovesFollowers: doc.ManuallyApprovesFollowers,
		CreatedAt:                 time.Now(),
	}
	if createErr := d.database.CreateUser(user); createErr != nil {
		if createErr != db.ErrAlreadyExists {
			return nil, createErr
		}
		readErr, existing := d.database.ReadUserByUsername(user.Username)
		if readErr != nil {
			return nil, readErr
		}
		user = existing
	}

	now := time.Now()
	actor := &domain.Actor{
		Id:                        uuid.New(),
		ActivityPubId:             doc.ID,
		DomainId:                  remoteDomain.Id,
		UserId:                    user.Id,
		PreferredUsername:         doc.PreferredUsername,
		Name:                      doc.Name,
		Type:                      domain.ActorType(doc.Type),
		PublicKey:                 doc.PublicKey.PublicKeyPem,
		ProfileURL:                doc.URL,
		InboxURL:                  doc.Inbox,
		OutboxURL:                 doc.Outbox,
		FollowersURL:              doc.Followers,
		FollowingURL:              doc.Following,
		SharedInboxURL:            doc.Endpoints.SharedInbox,
		ManuallyApprovesFollowers: doc.ManuallyApprovesFollowers,
		CreatedAt:                 now,
		LastFetchDate:             &now,
	}
	if err := d.database.CreateActor(actor); err != nil {
		if err == db.ErrAlreadyExists {
			err, existing := d.database.ReadActorByActivityPubId(doc.ID)
			if err != nil {
				return nil, err
			}
			return existing, nil
		}
		return nil, err
	}

	go d.UpdateRemoteActorStats(actor)

	log.Printf("Directory: Created remote actor %s", actor.ToString())
	return actor, nil
}

// GetOrFetchActor returns an actor from cache or dereferences it when
// unknown or stale.
func (d *Directory) GetOrFetchActor(actorURI string) (*domain.Actor, error) {
	err, cached := d.database.ReadActorByActivityPubId(actorURI)
	if err == nil && cached != nil {
		if cached.IsLocal() {
			return cached, nil
		}
		if cached.LastFetchDate != nil && time.Since(*cached.LastFetchDate) < actorCacheTTL {
			return cached, nil
		}
		return d.RefreshRemoteActor(cached), nil
	}

	return d.CreateRemoteActor(actorURI)
}

// CreateRemoteActorFromHandle resolves "user@domain" via webfinger and
// creates the actor.
func (d *Directory) CreateRemoteActorFromHandle(username string, host string) (*domain.Actor, error) {
	actorURI, err := d.Webfinger(username, host)
	if err != nil {
		return nil, err
	}
	return d.GetOrFetchActor(actorURI)
}

// ResolveAction controls what ResolveUserFromHandle does when the
// handle is not cached locally or the cache is stale.
type ResolveAction string

const (
	ResolveActionNone     ResolveAction = "none"
	ResolveActionCreation ResolveAction = "creation"
	ResolveActionRefresh  ResolveAction = "refresh"
)

// ResolveUserFromHandle resolves a "user@domain" handle (leading @
// tolerated) to a user and its actor. A handle without a domain part,
// or with the local domain, is a local-only lookup. Remote handles hit
// the cache first; action decides whether an unknown handle triggers a
// webfinger creation and whether a known one gets re-fetched.
func (d *Directory) ResolveUserFromHandle(handle string, action ResolveAction) (*domain.User, *domain.Actor, error) {
	parts := strings.SplitN(strings.TrimPrefix(handle, "@"), "@", 2)
	username := parts[0]
	if username == "" {
		return nil, nil, ErrUserNotFound
	}

	if len(parts) == 1 || parts[1] == d.conf.Conf.Domain {
		err, user := d.database.ReadUserByUsername(username)
		if err != nil {
			return nil, nil, ErrUserNotFound
		}
		readErr, actor := d.database.ReadActorByUserId(user.Id)
		if readErr != nil {
			return nil, nil, ErrUserNotFound
		}
		return user, actor, nil
	}

	host := parts[1]
	err, user := d.database.ReadUserByUsername(username + "@" + host)
	if err == nil {
		readErr, actor := d.database.ReadActorByUserId(user.Id)
		if readErr != nil {
			return nil, nil, ErrUserNotFound
		}
		if action == ResolveActionRefresh {
			actor = d.RefreshRemoteActor(actor)
		}
		return user, actor, nil
	}

	if action != ResolveActionCreation {
		return nil, nil, ErrUserNotFound
	}
	actor, createErr := d.CreateRemoteActorFromHandle(username, host)
	if createErr != nil {
		return nil, nil, createErr
	}
	readErr, created := d.database.ReadUserById(actor.UserId)
	if readErr != nil {
		return nil, nil, readErr
	}
	return created, actor, nil
}

// RefreshRemoteActor re-fetches a known actor and updates the cached
// row. Local actors are never re-fetched. Refresh failures are soft,
// the stale actor stays usable.
func (d *Directory) RefreshRemoteActor(actor *domain.Actor) *domain.Actor {
	if actor.IsLocal() {
		return actor
	}
	doc, err := d.FetchActorDocument(actor.ActivityPubId)
	if err != nil {
		log.Printf("Directory: Refresh failed for %s, keeping cached data: %v", actor.ActivityPubId, err)
		return actor
	}

	now := time.Now()
	actor.PreferredUsername = doc.PreferredUsername
	actor.Name = doc.Name
	actor.PublicKey = doc.PublicKey.PublicKeyPem
	actor.ProfileURL = doc.URL
	actor.InboxURL = doc.Inbox
	actor.OutboxURL = doc.Outbox
	actor.FollowersURL = doc.Followers
	actor.FollowingURL = doc.Following
	actor.SharedInboxURL = doc.Endpoints.SharedInbox
	actor.ManuallyApprovesFollowers = doc.ManuallyApprovesFollowers
	actor.LastFetchDate = &now

	if err := d.database.UpdateActor(actor); err != nil {
		log.Printf("Directory: Failed to store refreshed actor %s: %v", actor.ActivityPubId, err)
	}
	return actor
}

// UpdateRemoteActorStats polls a remote actor's collection sizes. Any
// failure is logged and skipped, stats are best effort.
func (d *Directory) UpdateRemoteActorStats(actor *domain.Actor) {
	stats := &domain.RemoteActorStats{ActorId: actor.Id}
	stats.Items = d.fetchCollectionTotal(actor.OutboxURL)
	stats.Followers = d.fetchCollectionTotal(actor.FollowersURL)
	stats.Following = d.fetchCollectionTotal(actor.FollowingURL)

	if err := d.database.UpsertActorStats(stats); err != nil {
		log.Printf("Directory: Failed to store stats for %s: %v", actor.ActivityPubId, err)
	}
}

// fetchCollectionTotal returns totalItems of an ActivityPub collection,
// or 0 when the collection is missing or unreadable.
func (d *Directory) fetchCollectionTotal(collectionURI string) int {
	if collectionURI == "" {
		return 0
	}
	var collection struct {
		TotalItems int `json:"totalItems"`
	}
	if err := d.getJSON(collectionURI, "application/activity+json", &collection); err != nil {
		log.Printf("Directory: Failed to fetch collection %s: %v", collectionURI, err)
		return 0
	}
	return collection.TotalItems
}

func (d *Directory) getJSON(rawURL string, accept string, out interface{}) error {
	req, err := http.NewRequest("GET", rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// extractHost extracts the host from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractHost(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("actor URI has no host: %s", actorURI)
	}
	return parsed.Host, nil
}
