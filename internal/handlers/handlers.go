package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/fluxcart/delta/internal/services"
	"github.com/fluxcart/delta/internal/validation"
)

type Handlers struct {
	Health   *HealthHandler
	Bucket   *BucketHandler
	Tracking *TrackingHandler
	Admin    *AdminHandler
}

func New(logger *logrus.Logger, services *services.Services) (*Handlers, error) {
	schemas, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, err
	}

	return &Handlers{
		Health:   NewHealthHandler(logger, services.Health),
		Bucket:   NewBucketHandler(logger, services.Cache, services.Scored),
		Tracking: NewTrackingHandler(logger, services.Tracker, schemas),
		Admin:    NewAdminHandler(logger, services.Weights, services.Analytics, services.MessageBus, schemas),
	}, nil
}
