package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/mycelian/mycelian-companion/companionservice"
)

func main() {
	if err := companionservice.Run(); err != nil {
		log.Error().Err(err).Msg("companion-service exited with error")
		os.Exit(1)
	}
}
