// cmd/server/main.go
package main

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/controller"
	"github.com/unclebandit/outreach-engine/internal/db"
	"github.com/unclebandit/outreach-engine/internal/handler"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg.LogLevel)

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer conn.Close()

	events, closeEvents, err := queue.NewAMQPPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer closeEvents()

	sequenceService := &service.SequenceService{
		Sequences:  &repository.SequenceRepository{DB: conn},
		Executions: &repository.ExecutionRepository{DB: conn},
		Contacts:   &repository.ContactRepository{DB: conn},
		Events:     events,
	}

	sequenceController := &controller.SequenceController{SequenceService: sequenceService}
	sequenceHandler := &handler.SequenceHandler{Service: sequenceService}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/sequences", sequenceController.CreateSequence)
	r.Get("/sequences/{id}", sequenceHandler.GetSequenceWithStats)
	r.Get("/sequences/{id}/stats", sequenceHandler.GetSequenceStats)
	r.Put("/sequences/{id}/steps", sequenceController.UpdateSteps)
	r.Post("/sequences/{id}/activate", sequenceController.ActivateSequence)
	r.Post("/sequences/{id}/enroll", sequenceController.EnrollContacts)
	r.Post("/sequences/{id}/personalized-preview", sequenceController.PersonalizedPreview)
	r.Post("/executions/{id}/cancel", sequenceController.CancelExecution)
	r.Get("/executions/{id}", sequenceController.GetExecution)

	log.Info().Str("port", cfg.Port).Msg("server running")
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
