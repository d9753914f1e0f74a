package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/SamR1/fittrackee-federation/db"
	"github.com/SamR1/fittrackee-federation/util"
	"github.com/gorilla/feeds"
)

// GetRSS renders the public workouts of the instance as an RSS feed.
func GetRSS(database *db.DB, conf *util.AppConfig) (string, error) {
	err, workouts := database.ReadPublicWorkouts(50)
	if err != nil {
		log.Println("Could not get public workouts!", err)
		return "", errors.New("error retrieving workouts")
	}

	link := fmt.Sprintf("https://%s/feed", conf.Conf.Domain)
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - Public workouts", conf.Conf.Domain),
		Link:        &feeds.Link{Href: link},
		Description: "public workouts on this instance",
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, workout := range *workouts {
		title := workout.Title
		if title == "" {
			title = workout.WorkoutDate.Format(util.DateTimeFormat())
		}
		itemLink := fmt.Sprintf("https://%s/workouts/%s", conf.Conf.Domain, workout.Id)
		if workout.IsRemote() {
			itemLink = workout.RemoteURL
		}
		feedItems = append(feedItems,
			&feeds.Item{
				Id:    workout.Id.String(),
				Title: title,
				Link:  &feeds.Link{Href: itemLink},
				Content: fmt.Sprintf("%.2f km in %s", workout.Distance,
					time.Duration(workout.Duration)*time.Second),
				Created: workout.WorkoutDate,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}
