package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"civicmesh/engine/actors"
	"civicmesh/engine/library"
	"civicmesh/messaging/eventconductor"
	"civicmesh/messaging/relays"
	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/viper"
)

// event-tool reads one vote intent as JSON on stdin and publishes it to the
// configured relays, where running engines pick it up.
func main() {
	conf := viper.New()
	actors.InitConfig(conf)
	settings := actors.LoadSettings(conf)
	library.SetLogLevel(settings.LogLevel)

	content, err := io.ReadAll(os.Stdin)
	if err != nil {
		library.LogCLI(err.Error(), 0)
		os.Exit(1)
	}
	if _, err := eventconductor.DecodeVote(content); err != nil {
		library.LogCLI(err.Error(), 0)
		os.Exit(1)
	}

	rt, err := relays.New(relays.Config{
		URLs:            settings.Relays,
		PrivateKey:      nostr.GeneratePrivateKey(),
		PublishInterval: settings.PublishInterval,
	})
	if err != nil {
		library.LogCLI(err.Error(), 0)
		os.Exit(1)
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e, err := rt.PublishIntent(ctx, content)
	if err != nil {
		library.LogCLI(err.Error(), 1)
		os.Exit(1)
	}
	fmt.Println(e.ID)
}
