package actors

import (
	"fmt"
	"strconv"
	"strings"

	"civicmesh/engine/library"
)

// Round is a voting round opened at startup, configured as
// "topic:synthesis:epoch".
type Round struct {
	TopicID     library.TopicID
	SynthesisID string
	Epoch       uint64
}

func ParseRound(s string) (Round, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Round{}, fmt.Errorf("round %q is not topic:synthesis:epoch", s)
	}
	epoch, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return Round{}, fmt.Errorf("round %q has a bad epoch: %w", s, err)
	}
	return Round{TopicID: parts[0], SynthesisID: parts[1], Epoch: epoch}, nil
}

func parseRounds(in []string) (rounds []Round) {
	for _, s := range in {
		r, err := ParseRound(s)
		if err != nil {
			library.LogCLI(err.Error(), 2)
			continue
		}
		rounds = append(rounds, r)
	}
	return
}
