package web

import (
	"net/http"
	"strings"

	"github.com/SamR1/fittrackee-federation/activitypub"
	"github.com/SamR1/fittrackee-federation/db"
	"github.com/SamR1/fittrackee-federation/domain"
	"github.com/SamR1/fittrackee-federation/util"
	"github.com/gin-gonic/gin"
)

// RemoteUserRequest asks for a remote actor by handle or URI.
type RemoteUserRequest struct {
	ActorURL string `json:"actor_url"`
}

// RemoteUserResponse reports the resolved actor and what the lookup
// did: nothing (fresh cache), a refresh, or a creation.
type RemoteUserResponse struct {
	Status string           `json:"status"`
	Action string           `json:"action"`
	Actor  *RemoteUserActor `json:"actor,omitempty"`
	Stats  *RemoteUserStats `json:"stats,omitempty"`
}

type RemoteUserActor struct {
	ActivityPubId     string `json:"activitypub_id"`
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name,omitempty"`
	ProfileURL        string `json:"profile_url,omitempty"`
	Domain            string `json:"domain"`
}

type RemoteUserStats struct {
	Items     int `json:"items"`
	Followers int `json:"followers"`
	Following int `json:"following"`
}

// HandleRemoteUser resolves a remote actor from a handle
// ("user@domain" or "@user@domain") or a full actor URI, creating or
// refreshing the local copy as needed.
func HandleRemoteUser(c *gin.Context, database *db.DB, conf *util.AppConfig, directory *activitypub.Directory) {
	var request RemoteUserRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.ActorURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Missing actor_url"})
		return
	}

	var actor *domain.Actor
	var err error
	var action string

	if strings.HasPrefix(request.ActorURL, "https://") || strings.HasPrefix(request.ActorURL, "http://") {
		actor, action, err = resolveByURI(database, directory, request.ActorURL)
	} else {
		actor, action, err = resolveByHandle(directory, request.ActorURL)
	}

	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": err.Error()})
		return
	}

	err, remoteDomain := database.ReadDomainByName(domainNameOf(actor))
	domainName := ""
	if err == nil {
		domainName = remoteDomain.Name
	}

	response := &RemoteUserResponse{
		Status: "success",
		Action: action,
		Actor: &RemoteUserActor{
			ActivityPubId:     actor.ActivityPubId,
			PreferredUsername: actor.PreferredUsername,
			Name:              actor.Name,
			ProfileURL:        actor.ProfileURL,
			Domain:            domainName,
		},
	}
	if statsErr, stats := database.ReadActorStats(actor.Id); statsErr == nil {
		response.Stats = &RemoteUserStats{
			Items:     stats.Items,
			Followers: stats.Followers,
			Following: stats.Following,
		}
	}
	c.JSON(http.StatusOK, response)
}

// resolveByHandle resolves via the directory: a cached handle gets a
// refresh (local actors are left alone), an unknown one a creation.
func resolveByHandle(directory *activitypub.Directory, handle string) (*domain.Actor, string, error) {
	_, actor, err := directory.ResolveUserFromHandle(handle, activitypub.ResolveActionRefresh)
	if err == nil {
		if actor.IsLocal() {
			return actor, "none", nil
		}
		return actor, "refresh", nil
	}
	if err != activitypub.ErrUserNotFound {
		return nil, "", err
	}
	_, actor, err = directory.ResolveUserFromHandle(handle, activitypub.ResolveActionCreation)
	return actor, "creation", err
}

func resolveByURI(database *db.DB, directory *activitypub.Directory, actorURI string) (*domain.Actor, string, error) {
	err, cached := database.ReadActorByActivityPubId(actorURI)
	if err != nil {
		actor, createErr := directory.CreateRemoteActor(actorURI)
		return actor, "creation", createErr
	}
	if cached.IsLocal() {
		return cached, "none", nil
	}
	refreshed := directory.RefreshRemoteActor(cached)
	return refreshed, "refresh", nil
}

func domainNameOf(actor *domain.Actor) string {
	parts := strings.SplitN(strings.TrimPrefix(strings.TrimPrefix(actor.ActivityPubId, "https://"), "http://"), "/", 2)
	return parts[0]
}

// FollowActionRequest names the local user and the remote actor of a
// follow state change.
type FollowActionRequest struct {
	Username string `json:"username"`
	ActorURL string `json:"actor_url"`
}

// HandleFollowAction executes a local-side follow state change:
// follow, unfollow, approve or reject.
func HandleFollowAction(c *gin.Context, database *db.DB, dispatcher *activitypub.Dispatcher, action string) {
	var request FollowActionRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Username == "" || request.ActorURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Missing username or actor_url"})
		return
	}

	err, localUser := database.ReadUserByUsername(request.Username)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "User not found"})
		return
	}
	err, remoteActor := database.ReadActorByActivityPubId(request.ActorURL)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Actor not found"})
		return
	}
	err, remoteUser := database.ReadUserById(remoteActor.UserId)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Actor not found"})
		return
	}

	var actionErr error
	switch action {
	case "follow":
		actionErr = dispatcher.FollowRemoteActor(localUser, remoteActor)
	case "unfollow":
		actionErr = dispatcher.UnfollowRemoteActor(localUser, remoteActor)
	case "approve":
		actionErr = dispatcher.ApproveFollowRequest(localUser, remoteUser)
	case "reject":
		actionErr = dispatcher.RejectFollowRequest(localUser, remoteUser)
	}

	if actionErr != nil {
		c.JSON(followActionStatus(actionErr), gin.H{"status": "error", "message": actionErr.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func followActionStatus(err error) int {
	switch err {
	case activitypub.ErrFollowRequestNotFound:
		return http.StatusNotFound
	case activitypub.ErrFollowRequestAlreadyRejected,
		activitypub.ErrFollowRequestAlreadyProcessed:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
