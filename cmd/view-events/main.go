package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"civicmesh/consensus/admission"
	"civicmesh/engine/actors"
	"civicmesh/engine/library"
	"civicmesh/engine/store"
	"civicmesh/messaging/eventconductor"
	"civicmesh/messaging/mesh"
	"civicmesh/messaging/meshwriter"
	"civicmesh/messaging/relays"
	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/viper"
)

// view-events listens to the relays for a while and prints the sentiment the
// mesh currently holds, without touching the engine's local state.
func main() {
	conf := viper.New()
	actors.InitConfig(conf)
	settings := actors.LoadSettings(conf)
	library.SetLogLevel(settings.LogLevel)

	// a throwaway identity so events from our own engine are not skipped
	rt, err := relays.New(relays.Config{
		URLs:         settings.Relays,
		PrivateKey:   nostr.GeneratePrivateKey(),
		QueryTimeout: settings.IOTimeout,
	})
	if err != nil {
		library.LogCLI(err.Error(), 0)
		os.Exit(1)
	}
	defer rt.Close()

	db, err := store.Open("memory", "")
	if err != nil {
		library.LogCLI(err.Error(), 0)
		os.Exit(1)
	}
	defer db.Close()
	c, err := eventconductor.New(eventconductor.Config{
		Admission: admission.NewController(admission.Config{}),
		Writer:    meshwriter.New(mesh.NewMemory(), meshwriter.Config{}),
		Store:     db,
	})
	if err != nil {
		library.LogCLI(err.Error(), 0)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	remote := make(chan relays.Remote)
	rt.Subscribe(ctx, remote, 0)
	entries := 0
L:
	for {
		select {
		case r := <-remote:
			adopted, err := c.ApplyRemote(r.Key, r.Value)
			if err != nil {
				library.LogCLI(err.Error(), 3)
				continue
			}
			if adopted {
				entries++
			}
		case <-ctx.Done():
			break L
		}
	}

	fmt.Printf("\n%d vote entries from the mesh\n", entries)
	for _, topic := range c.Topics() {
		fmt.Printf("\nTopic: %s Engagement weight: %.2f\n", topic, c.TopicWeight(topic))
	}
	for _, point := range c.Points() {
		st := c.PointStats(point)
		fmt.Printf("Point: %s Agree: %d Disagree: %d\n", point, st.Agree, st.Disagree)
	}
}
