package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/SamR1/fittrackee-federation/activitypub"
	"github.com/SamR1/fittrackee-federation/db"
	"github.com/SamR1/fittrackee-federation/domain"
	"github.com/SamR1/fittrackee-federation/util"
	"github.com/SamR1/fittrackee-federation/web"
)

// defaultSports mirrors the built-in sport catalogue. Seeding is
// idempotent, existing rows are left untouched.
var defaultSports = []domain.Sport{
	{Id: 1, Label: "Cycling (Sport)", IsActive: true},
	{Id: 2, Label: "Cycling (Transport)", IsActive: true},
	{Id: 3, Label: "Hiking", IsActive: true},
	{Id: 4, Label: "Mountain Biking", IsActive: true},
	{Id: 5, Label: "Running", IsActive: true},
	{Id: 6, Label: "Walking", IsActive: true},
}

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	log.Println("Running database migrations...")
	database := db.GetDB()
	log.Println("Database migrations complete")

	seedSports(database)

	directory := activitypub.NewDirectory(database, conf)
	if _, err := directory.EnsureLocalDomain(); err != nil {
		log.Fatalln("Could not register local domain:", err)
	}
	if _, err := directory.EnsureInstanceActor(); err != nil {
		log.Fatalln("Could not create instance actor:", err)
	}

	sender := activitypub.NewSender(database, conf)
	dispatcher := activitypub.NewDispatcher(database, conf, directory, sender)

	queues := activitypub.NewQueues()
	queues.Register(activitypub.QueueInbox, 4, 256, dispatcher.Dispatch)

	gateway := activitypub.NewGateway(database, conf, directory, queues)

	var worker *activitypub.DeliveryWorker
	if conf.Conf.WithFederation {
		worker = activitypub.NewDeliveryWorker(database, conf, sender)
		worker.Start()
	} else {
		log.Println("Federation is disabled, delivery worker not started")
	}

	server := &web.Server{
		Database:   database,
		Conf:       conf,
		Directory:  directory,
		Dispatcher: dispatcher,
		Gateway:    gateway,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := web.Router(server); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Shutting down...")
	if worker != nil {
		worker.Stop()
	}
	queues.Stop()
}

func seedSports(database *db.DB) {
	for _, sport := range defaultSports {
		sport := sport
		if err := database.CreateSport(&sport); err != nil && err != db.ErrAlreadyExists {
			log.Printf("Warning: could not seed sport %q: %v", sport.Label, err)
		}
	}
}
