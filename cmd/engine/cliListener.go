package main

import (
	"fmt"

	"civicmesh/engine/library"
	"civicmesh/messaging/eventconductor"
	"github.com/eiannone/keyboard"
	"github.com/spf13/viper"
)

// cliListener is a cheap and nasty way to speed up development cycles. It listens for keypresses and prints state.
func cliListener(interrupt chan struct{}, conf *viper.Viper, wallet library.Wallet, c *eventconductor.Conductor) {
	fmt.Println("VIEW CURRENT STATE:\ns: sentiment per point\nw: current wallet\nc: engine config\nm: mesh writes\nr: receipts\nq: to quit")
	for {
		r, k, err := keyboard.GetSingleKey()
		if err != nil {
			library.LogCLI(fmt.Sprintf("console disabled: %s", err.Error()), 2)
			return
		}
		str := string(r)
		switch str {
		default:
			if k == keyboard.KeyEnter {
				fmt.Println("\n-----------------------------------")
				break
			}
			if r == 0 {
				break
			}
			fmt.Println("Key " + str + " is not bound to anything. See cliListener.go for more details.")
		case "s":
			for _, topic := range c.Topics() {
				fmt.Printf("\nTopic: %s Engagement weight: %.2f\n", topic, c.TopicWeight(topic))
			}
			for _, point := range c.Points() {
				st := c.PointStats(point)
				fmt.Printf("Point: %s Agree: %d Disagree: %d\n", point, st.Agree, st.Disagree)
			}
		case "w":
			fmt.Printf("Current Wallet: \n%s\n", wallet.Account)
		case "c":
			fmt.Println("CURRENT CONFIG")
			for k, v := range conf.AllSettings() {
				fmt.Printf("\nKey: %s; Value: %v\n", k, v)
			}
		case "m":
			s := c.WriterStats()
			fmt.Printf("Issued: %d Settled: %d Succeeded: %d Late: %d Failed: %d In flight: %d\n",
				s.Issued, s.Settled, s.Succeeded, s.Late, s.Failed, s.Issued-s.Settled)
		case "r":
			for _, id := range c.ReceiptIDs() {
				if receipt, ok := c.Receipt(id); ok {
					fmt.Printf("\n%#v\n", receipt)
				}
			}
		case "q":
			close(interrupt)
			return
		}
	}
}
