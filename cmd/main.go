package main

import (
	"context"

	"github.com/pitabwire/frame"

	"github.com/antinvestor/daraja-api/config"
	"github.com/antinvestor/daraja-api/service/business"
	"github.com/antinvestor/daraja-api/service/coreapi"
	"github.com/antinvestor/daraja-api/service/events"
	handlers "github.com/antinvestor/daraja-api/service/handler"
	"github.com/antinvestor/daraja-api/service/models"
	"github.com/antinvestor/daraja-api/service/repository"
	"github.com/antinvestor/daraja-api/service/router"
	"github.com/antinvestor/daraja-api/service/scheduler"
)

func main() {
	serviceName := "service_daraja_api"

	darajaConfig, err := frame.ConfigFromEnv[config.DarajaConfig]()
	if err != nil {
		panic(err)
	}

	ctx, service := frame.NewService(serviceName, frame.WithConfig(&darajaConfig))
	defer service.Stop(ctx)
	logger := service.Log(ctx).WithField("type", "main")

	service.Init(ctx, frame.WithDatastore())

	db := service.DB(ctx, false)
	if db == nil {
		logger.Fatal("database connection is nil - check DATABASE_URL and database availability")
		return
	}
	if err = db.AutoMigrate(&models.PaymentRequest{}, &models.CallbackEvent{}); err != nil {
		logger.WithError(err).Fatal("could not migrate database tables")
		return
	}

	clientApi := coreapi.New(
		darajaConfig.ConsumerKey,
		darajaConfig.ConsumerSecret,
		darajaConfig.ShortCode,
		darajaConfig.PassKey,
		darajaConfig.CallbackURL,
		darajaConfig.Env,
	)

	requestRepo := repository.NewPaymentRequestRepository(ctx, service)
	eventRepo := repository.NewCallbackEventRepository(ctx, service)

	pushBusiness := business.NewPushBusiness(ctx, service, &darajaConfig,
		clientApi, scheduler.SystemClock{}, requestRepo, eventRepo)

	ps := &handlers.PushServer{
		Service:  service,
		Business: pushBusiness,
	}

	serviceOptions := []frame.Option{
		frame.WithHTTPHandler(router.NewRouter(ps, &darajaConfig)),
		frame.WithRegisterEvents(
			&events.RequestStatusNotify{Service: service},
			&events.ReconAnomalyNotify{Service: service},
		),
	}
	service.Init(ctx, serviceOptions...)

	jobs := scheduler.New(service)
	jobs.Add("expiration-sweeper", darajaConfig.SweepInterval(), func(ctx context.Context) error {
		_, runErr := pushBusiness.ExpireStale(ctx)
		return runErr
	})
	jobs.Add("missing-confirmation-auditor", darajaConfig.AuditInterval(), func(ctx context.Context) error {
		_, runErr := pushBusiness.AuditMissingConfirmations(ctx)
		return runErr
	})
	jobs.Start(ctx)

	logger.WithField("environment", darajaConfig.EnvironmentName).Info("starting daraja api service")
	if runErr := service.Run(ctx, ":8080"); runErr != nil {
		logger.WithError(runErr).Fatal("could not run service")
	}
}
