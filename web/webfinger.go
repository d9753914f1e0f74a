package web

import (
	"fmt"
	"strings"

	"github.com/SamR1/fittrackee-federation/db"
	"github.com/SamR1/fittrackee-federation/util"
)

// WebfingerLink is one entry of a webfinger response.
type WebfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// WebfingerResource is the response to an acct: lookup.
type WebfingerResource struct {
	Subject string          `json:"subject"`
	Links   []WebfingerLink `json:"links"`
}

// GetWebfinger resolves a local username to its webfinger document.
func GetWebfinger(database *db.DB, conf *util.AppConfig, resource string) (error, *WebfingerResource) {
	// resource format: "acct:username@domain"
	resource = strings.TrimPrefix(resource, "acct:")
	parts := strings.SplitN(resource, "@", 2)
	username := parts[0]
	if len(parts) == 2 && parts[1] != conf.Conf.Domain {
		return fmt.Errorf("unknown domain: %s", parts[1]), nil
	}

	err, user := database.ReadUserByUsername(username)
	if err != nil {
		return err, nil
	}
	err, actor := database.ReadActorByUserId(user.Id)
	if err != nil {
		return err, nil
	}
	if !actor.IsLocal() {
		return fmt.Errorf("actor %s is not local", username), nil
	}

	return nil, &WebfingerResource{
		Subject: fmt.Sprintf("acct:%s@%s", actor.PreferredUsername, conf.Conf.Domain),
		Links: []WebfingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: actor.ActivityPubId,
			},
			{
				Rel:  "http://webfinger.net/rel/profile-page",
				Type: "text/html",
				Href: actor.ProfileURL,
			},
		},
	}
}
