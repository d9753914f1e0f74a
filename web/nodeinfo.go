package web

import (
	"fmt"

	"github.com/SamR1/fittrackee-federation/db"
	"github.com/SamR1/fittrackee-federation/util"
)

// NodeInfoDiscovery is the /.well-known/nodeinfo document.
type NodeInfoDiscovery struct {
	Links []NodeInfoLink `json:"links"`
}

type NodeInfoLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// NodeInfo is the nodeinfo 2.0 document.
type NodeInfo struct {
	Version           string   `json:"version"`
	Software          Software `json:"software"`
	Protocols         []string `json:"protocols"`
	Usage             Usage    `json:"usage"`
	OpenRegistrations bool     `json:"openRegistrations"`
}

type Software struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Usage struct {
	Users         UsersUsage `json:"users"`
	LocalWorkouts int        `json:"localWorkouts"`
}

type UsersUsage struct {
	Total int `json:"total"`
}

// GetNodeInfoDiscovery points to the nodeinfo 2.0 document.
func GetNodeInfoDiscovery(conf *util.AppConfig) *NodeInfoDiscovery {
	return &NodeInfoDiscovery{
		Links: []NodeInfoLink{
			{
				Rel:  "http://nodeinfo.diaspora.software/ns/schema/2.0",
				Href: fmt.Sprintf("https://%s/nodeinfo/2.0", conf.Conf.Domain),
			},
		},
	}
}

// GetNodeInfo builds the nodeinfo 2.0 document with live usage counts.
func GetNodeInfo(database *db.DB, conf *util.AppConfig) (error, *NodeInfo) {
	err, userCount := database.CountLocalUsers()
	if err != nil {
		return err, nil
	}
	err, workoutCount := database.CountLocalWorkouts()
	if err != nil {
		return err, nil
	}

	return nil, &NodeInfo{
		Version: "2.0",
		Software: Software{
			Name:    util.Name,
			Version: util.GetVersion(),
		},
		Protocols: []string{"activitypub"},
		Usage: Usage{
			Users:         UsersUsage{Total: userCount},
			LocalWorkouts: workoutCount,
		},
		OpenRegistrations: conf.Conf.OpenRegistration,
	}
}
