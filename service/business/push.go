package business

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pitabwire/frame"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/antinvestor/daraja-api/config"
	"github.com/antinvestor/daraja-api/service/coreapi"
	"github.com/antinvestor/daraja-api/service/events"
	"github.com/antinvestor/daraja-api/service/models"
	"github.com/antinvestor/daraja-api/service/repository"
	"github.com/antinvestor/daraja-api/service/scheduler"
)

var phonePattern = regexp.MustCompile(`^254[17]\d{8}$`)

// InitiateRequest carries the caller's push payment parameters.
type InitiateRequest struct {
	PhoneNumber      string          `json:"phoneNumber"`
	Amount           decimal.Decimal `json:"amount"`
	AccountReference string          `json:"accountReference"`
	Description      string          `json:"description"`
	CorrelationID    string          `json:"correlationId"`
}

// ReconRun is the retained report of one sweeper or auditor execution.
type ReconRun struct {
	RanAt      time.Time `json:"ranAt"`
	Count      int       `json:"count"`
	RequestIDs []string  `json:"requestIds"`
}

type PushBusiness interface {
	// Initiate fires the STK prompt and persists the PENDING request.
	// initiatedBy is the authenticated caller's identity, threaded
	// explicitly rather than read from ambient state.
	Initiate(ctx context.Context, initiatedBy string, request InitiateRequest) (*models.PaymentRequest, error)
	GetRequest(ctx context.Context, id string) (*models.PaymentRequest, error)

	ProcessResultCallback(ctx context.Context, rawPayload []byte, callback *models.StkResultCallback) error
	ProcessLedgerConfirmation(ctx context.Context, rawPayload []byte, confirmation *models.LedgerConfirmation) error

	ExpireStale(ctx context.Context) (*ReconRun, error)
	AuditMissingConfirmations(ctx context.Context) (*ReconRun, error)
	LastSweep() *ReconRun
	LastAudit() *ReconRun
}

type pushBusiness struct {
	service *frame.Service
	cfg     *config.DarajaConfig
	client  coreapi.DarajaApiClient
	clock   scheduler.Clock

	requestRepo repository.PaymentRequestRepository
	eventRepo   repository.CallbackEventRepository

	runMu     sync.Mutex
	lastSweep *ReconRun
	lastAudit *ReconRun
}

func NewPushBusiness(_ context.Context, service *frame.Service, cfg *config.DarajaConfig,
	client coreapi.DarajaApiClient, clock scheduler.Clock,
	requestRepo repository.PaymentRequestRepository, eventRepo repository.CallbackEventRepository) PushBusiness {
	return &pushBusiness{
		service:     service,
		cfg:         cfg,
		client:      client,
		clock:       clock,
		requestRepo: requestRepo,
		eventRepo:   eventRepo,
	}
}

func (pb *pushBusiness) validateInitiateRequest(request InitiateRequest) error {
	if !phonePattern.MatchString(request.PhoneNumber) {
		return &ValidationError{Field: "phoneNumber", Reason: "must be of the form 2547XXXXXXXX"}
	}
	minAmount := decimal.NewFromInt(int64(pb.cfg.MinimumAmount))
	maxAmount := decimal.NewFromInt(int64(pb.cfg.MaximumAmount))
	if request.Amount.LessThan(minAmount) {
		return &ValidationError{Field: "amount", Reason: "below the minimum push amount"}
	}
	if request.Amount.GreaterThan(maxAmount) {
		return &ValidationError{Field: "amount", Reason: "above the maximum push amount"}
	}
	if !request.Amount.Equal(request.Amount.Truncate(0)) {
		return &ValidationError{Field: "amount", Reason: "must be a whole amount"}
	}
	if request.AccountReference == "" {
		return &ValidationError{Field: "accountReference", Reason: "is required"}
	}
	return nil
}

func (pb *pushBusiness) Initiate(ctx context.Context, initiatedBy string, request InitiateRequest) (*models.PaymentRequest, error) {
	logger := pb.service.Log(ctx).
		WithField("type", "Initiate").
		WithField("accountReference", request.AccountReference)

	if !pb.cfg.StkPushEnabled {
		return nil, ErrServiceDisabled
	}

	if err := pb.validateInitiateRequest(request); err != nil {
		logger.WithError(err).Info("rejected initiation request")
		return nil, err
	}

	correlationID := request.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger = logger.WithField("correlationId", correlationID)

	token, err := pb.client.GenerateAccessToken(ctx)
	if err != nil {
		logger.WithError(err).Error("could not obtain provider access token")
		return nil, MapProviderError(err)
	}

	pushRequest := models.STKPushRequest{
		Amount:           request.Amount.StringFixed(0),
		PartyA:           request.PhoneNumber,
		PhoneNumber:      request.PhoneNumber,
		AccountReference: request.AccountReference,
		TransactionDesc:  request.Description,
	}

	response, err := pb.client.InitiateSTKPush(ctx, pushRequest, token.AccessToken)
	if err != nil {
		// No record is persisted for a rejected initiation; the caller
		// is free to retry.
		logger.WithError(err).Error("provider rejected push initiation")
		return nil, MapProviderError(err)
	}

	paymentRequest := &models.PaymentRequest{
		MerchantRequestID: response.MerchantRequestID,
		CheckoutRequestID: response.CheckoutRequestID,
		PhoneNumber:       request.PhoneNumber,
		Amount:            decimal.NullDecimal{Valid: true, Decimal: request.Amount},
		AccountReference:  request.AccountReference,
		Description:       request.Description,
		Status:            models.StatusPending,
		CorrelationID:     correlationID,
		InitiatedBy:       initiatedBy,
		InitiatedAt:       pb.clock.Now(),
	}
	paymentRequest.GenID(ctx)

	if err = pb.requestRepo.Save(ctx, paymentRequest); err != nil {
		logger.WithError(err).Error("could not persist payment request")
		return nil, err
	}

	logger.WithField("requestId", paymentRequest.GetID()).
		WithField("checkoutRequestId", paymentRequest.CheckoutRequestID).
		Info("push payment initiated")

	pb.emitStatus(ctx, paymentRequest)

	return paymentRequest, nil
}

func (pb *pushBusiness) GetRequest(ctx context.Context, id string) (*models.PaymentRequest, error) {
	request, err := pb.requestRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestDoesNotExist
		}
		return nil, err
	}
	return request, nil
}

func (pb *pushBusiness) emitStatus(ctx context.Context, request *models.PaymentRequest) {
	event := events.RequestStatusNotify{}
	if err := pb.service.Emit(ctx, event.Name(), request); err != nil {
		pb.service.Log(ctx).WithError(err).Warn("could not emit request status event")
	}
}

func (pb *pushBusiness) emitAnomaly(ctx context.Context, anomaly *events.Anomaly) {
	event := events.ReconAnomalyNotify{}
	if err := pb.service.Emit(ctx, event.Name(), anomaly); err != nil {
		pb.service.Log(ctx).WithError(err).Warn("could not emit anomaly event")
	}
}
