package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/mycelian/cockpit/internal/cockpitservice"
)

func main() {
	if err := cockpitservice.Run(); err != nil {
		log.Error().Err(err).Msg("cockpit-service exited with error")
		os.Exit(1)
	}
}
