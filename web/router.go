package web

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/SamR1/fittrackee-federation/activitypub"
	"github.com/SamR1/fittrackee-federation/db"
	"github.com/SamR1/fittrackee-federation/domain"
	"github.com/SamR1/fittrackee-federation/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"golang.org/x/time/rate"
)

// Server bundles the dependencies of the HTTP layer.
type Server struct {
	Database   *db.DB
	Conf       *util.AppConfig
	Directory  *activitypub.Directory
	Dispatcher *activitypub.Dispatcher
	Gateway    *activitypub.Gateway
}

// NewRouter builds the gin engine with all routes. Serving is left to
// the caller.
func NewRouter(s *Server) *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// RSS Feed
	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		rss, err := GetRSS(s.Database, s.Conf)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	// Federation endpoints. The enabled check runs before anything
	// else, a disabled instance answers 403 to all of them.
	federationEnabled := FederationEnabledMiddleware(s.Conf)

	// Stricter rate limit for inbox endpoints: 5 req/sec per IP
	inboxLimiter := NewRateLimiter(rate.Limit(5), 10)

	// Max 1MB request body size for activities
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

	g.GET("/.well-known/webfinger", federationEnabled, func(c *gin.Context) {
		resource := c.Query("resource")
		if resource == "" || !strings.HasPrefix(resource, "acct:") {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Missing or invalid resource"})
			return
		}
		err, response := GetWebfinger(s.Database, s.Conf, resource)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Resource not found"})
			return
		}
		c.Header("Content-Type", "application/jrd+json; charset=utf-8")
		c.JSON(http.StatusOK, response)
	})

	g.GET("/.well-known/nodeinfo", federationEnabled, func(c *gin.Context) {
		c.JSON(http.StatusOK, GetNodeInfoDiscovery(s.Conf))
	})

	g.GET("/nodeinfo/2.0", federationEnabled, func(c *gin.Context) {
		err, nodeInfo := GetNodeInfo(s.Database, s.Conf)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
			return
		}
		c.JSON(http.StatusOK, nodeInfo)
	})

	g.GET("/federation/user/:username", federationEnabled, func(c *gin.Context) {
		err, actor := GetActorDocument(s.Database, s.Conf, c.Param("username"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "User not found"})
			return
		}
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		c.JSON(http.StatusOK, actor)
	})

	g.POST("/federation/inbox", federationEnabled, RateLimitMiddleware(inboxLimiter), maxBodySize, func(c *gin.Context) {
		HandleInbox(c, s.Gateway, "")
	})

	g.POST("/federation/user/:username/inbox", federationEnabled, RateLimitMiddleware(inboxLimiter), maxBodySize, func(c *gin.Context) {
		HandleInbox(c, s.Gateway, c.Param("username"))
	})

	g.GET("/federation/user/:username/outbox", federationEnabled, func(c *gin.Context) {
		serveCollection(c, s, GetOutboxCollection)
	})

	g.GET("/federation/user/:username/followers", federationEnabled, func(c *gin.Context) {
		serveCollection(c, s, GetFollowersCollection)
	})

	g.GET("/federation/user/:username/following", federationEnabled, func(c *gin.Context) {
		serveCollection(c, s, GetFollowingCollection)
	})

	// Internal API, guarded with the shared key
	apiKey := ApiKeyMiddleware(s.Conf)

	g.POST("/federation/remote-user", federationEnabled, apiKey, func(c *gin.Context) {
		HandleRemoteUser(c, s.Database, s.Conf, s.Directory)
	})

	for _, action := range []string{"follow", "unfollow", "approve", "reject"} {
		action := action
		g.POST("/federation/"+action, federationEnabled, apiKey, func(c *gin.Context) {
			HandleFollowAction(c, s.Database, s.Dispatcher, action)
		})
	}

	return g
}

func serveCollection(c *gin.Context, s *Server,
	collection func(*db.DB, *domain.Actor) (error, *OrderedCollection)) {
	err, user := s.Database.ReadUserByUsername(c.Param("username"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "User not found"})
		return
	}
	err, actor := s.Database.ReadActorByUserId(user.Id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "User not found"})
		return
	}
	err, doc := collection(s.Database, actor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
		return
	}
	c.Header("Content-Type", "application/activity+json; charset=utf-8")
	c.JSON(http.StatusOK, doc)
}

// Router builds and serves the HTTP API.
func Router(s *Server) error {
	log.Printf("Starting federation server on %s:%d", s.Conf.Conf.Host, s.Conf.Conf.HttpPort)
	g := NewRouter(s)
	return g.Run(fmt.Sprintf("%s:%d", s.Conf.Conf.Host, s.Conf.Conf.HttpPort))
}
