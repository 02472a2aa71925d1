package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pitabwire/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/daraja-api/config"
	"github.com/antinvestor/daraja-api/service/business"
	"github.com/antinvestor/daraja-api/service/models"
)

// stubBusiness scripts the engine answers so the handlers can be exercised
// over plain httptest recorders.
type stubBusiness struct {
	initiateResult *models.PaymentRequest
	initiateErr    error
	initiatedBy    string
	lastRequest    business.InitiateRequest

	getResult *models.PaymentRequest
	getErr    error

	resultErr      error
	resultPayloads [][]byte

	ledgerErr      error
	ledgerPayloads [][]byte

	sweepRun *business.ReconRun
	sweepErr error
	auditRun *business.ReconRun
	auditErr error
}

func (s *stubBusiness) Initiate(_ context.Context, initiatedBy string, request business.InitiateRequest) (*models.PaymentRequest, error) {
	s.initiatedBy = initiatedBy
	s.lastRequest = request
	return s.initiateResult, s.initiateErr
}

func (s *stubBusiness) GetRequest(_ context.Context, _ string) (*models.PaymentRequest, error) {
	return s.getResult, s.getErr
}

func (s *stubBusiness) ProcessResultCallback(_ context.Context, rawPayload []byte, _ *models.StkResultCallback) error {
	s.resultPayloads = append(s.resultPayloads, rawPayload)
	return s.resultErr
}

func (s *stubBusiness) ProcessLedgerConfirmation(_ context.Context, rawPayload []byte, _ *models.LedgerConfirmation) error {
	s.ledgerPayloads = append(s.ledgerPayloads, rawPayload)
	return s.ledgerErr
}

func (s *stubBusiness) ExpireStale(_ context.Context) (*business.ReconRun, error) {
	return s.sweepRun, s.sweepErr
}

func (s *stubBusiness) AuditMissingConfirmations(_ context.Context) (*business.ReconRun, error) {
	return s.auditRun, s.auditErr
}

func (s *stubBusiness) LastSweep() *business.ReconRun { return s.sweepRun }
func (s *stubBusiness) LastAudit() *business.ReconRun { return s.auditRun }

func newTestServer(t *testing.T, stub *stubBusiness) *PushServer {
	t.Helper()
	ctx, service := frame.NewService("daraja_handler_tests", frame.WithConfig(&config.DarajaConfig{}))
	t.Cleanup(func() { service.Stop(ctx) })
	return &PushServer{Service: service, Business: stub}
}

func TestInitiatePushCreated(t *testing.T) {
	request := &models.PaymentRequest{
		MerchantRequestID: "m-1",
		CheckoutRequestID: "ws_CO_1",
		Status:            models.StatusPending,
		CorrelationID:     "corr-1",
	}
	stub := &stubBusiness{initiateResult: request}
	server := newTestServer(t, stub)

	body := bytes.NewBufferString(`{"phoneNumber":"254722000000","amount":"100","accountReference":"POL123456","description":"Premium"}`)
	req := httptest.NewRequest(http.MethodPost, "/payments/push/initiate", body)
	req.Header.Set(headerCallerID, "agent-portal")
	req.Header.Set(headerCorrelationID, "corr-override")
	recorder := httptest.NewRecorder()

	server.InitiatePush(recorder, req)

	assert.Equal(t, http.StatusCreated, recorder.Code)
	assert.Equal(t, "agent-portal", stub.initiatedBy)
	assert.Equal(t, "corr-override", stub.lastRequest.CorrelationID)

	var response initiateResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "ws_CO_1", response.CheckoutRequestID)
	assert.Equal(t, models.StatusPending, response.Status)
}

func TestInitiatePushBadBody(t *testing.T) {
	server := newTestServer(t, &stubBusiness{})

	req := httptest.NewRequest(http.MethodPost, "/payments/push/initiate", bytes.NewBufferString("{not json"))
	recorder := httptest.NewRecorder()

	server.InitiatePush(recorder, req)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestInitiatePushErrorMapping(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", &business.ValidationError{Field: "phoneNumber", Reason: "must be a Kenyan MSISDN"}, http.StatusUnprocessableEntity},
		{"disabled", business.ErrServiceDisabled, http.StatusServiceUnavailable},
		{"rate limited", &business.ProviderError{Code: "429.001.01", RateLimited: true}, http.StatusTooManyRequests},
		{"provider down", &business.ProviderError{Code: "500.001.1001", Temporary: true}, http.StatusBadGateway},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := newTestServer(t, &stubBusiness{initiateErr: tc.err})

			body := bytes.NewBufferString(`{"phoneNumber":"254722000000","amount":"100","accountReference":"POL123456"}`)
			req := httptest.NewRequest(http.MethodPost, "/payments/push/initiate", body)
			recorder := httptest.NewRecorder()

			server.InitiatePush(recorder, req)
			assert.Equal(t, tc.wantStatus, recorder.Code)
		})
	}
}

func TestStkCallbackAlwaysAcknowledges(t *testing.T) {
	payload := `{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok"}}}`

	testCases := []struct {
		name string
		stub *stubBusiness
		body string
	}{
		{"processed", &stubBusiness{}, payload},
		{"processing failure", &stubBusiness{resultErr: errors.New("store unavailable")}, payload},
		{"undecodable body", &stubBusiness{}, "{not json"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := newTestServer(t, tc.stub)

			req := httptest.NewRequest(http.MethodPost, "/payments/push/callback", bytes.NewBufferString(tc.body))
			recorder := httptest.NewRecorder()

			server.HandleStkCallback(recorder, req)

			assert.Equal(t, http.StatusOK, recorder.Code)
			var ack map[string]any
			require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &ack))
			assert.EqualValues(t, 0, ack["ResultCode"])
		})
	}
}

func TestStkCallbackPassesRawPayloadThrough(t *testing.T) {
	stub := &stubBusiness{}
	server := newTestServer(t, stub)

	payload := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0}}}`
	req := httptest.NewRequest(http.MethodPost, "/payments/push/callback", bytes.NewBufferString(payload))
	server.HandleStkCallback(httptest.NewRecorder(), req)

	require.Len(t, stub.resultPayloads, 1)
	assert.JSONEq(t, payload, string(stub.resultPayloads[0]))
}

func TestLedgerConfirmationAlwaysAcknowledges(t *testing.T) {
	stub := &stubBusiness{ledgerErr: errors.New("store unavailable")}
	server := newTestServer(t, stub)

	payload := `{"TransID":"RKTQDM7W6S","TransAmount":"100.00","BillRefNumber":"POL123456"}`
	req := httptest.NewRequest(http.MethodPost, "/payments/ledger/confirmation", bytes.NewBufferString(payload))
	recorder := httptest.NewRecorder()

	server.HandleLedgerConfirmation(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, stub.ledgerPayloads, 1)
}

func TestGetRequestNotFound(t *testing.T) {
	server := newTestServer(t, &stubBusiness{getErr: business.ErrRequestDoesNotExist})

	req := httptest.NewRequest(http.MethodGet, "/payments/push/requests/missing", nil)
	recorder := httptest.NewRecorder()

	server.GetRequest(recorder, req)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestRunSweepReportsRun(t *testing.T) {
	stub := &stubBusiness{sweepRun: &business.ReconRun{Count: 2, RequestIDs: []string{"a", "b"}}}
	server := newTestServer(t, stub)

	recorder := httptest.NewRecorder()
	server.RunSweep(recorder, httptest.NewRequest(http.MethodPost, "/recon/sweep/run", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	var run business.ReconRun
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &run))
	assert.Equal(t, 2, run.Count)
}

func TestRunAuditFailure(t *testing.T) {
	server := newTestServer(t, &stubBusiness{auditErr: errors.New("store unavailable")})

	recorder := httptest.NewRecorder()
	server.RunAudit(recorder, httptest.NewRequest(http.MethodPost, "/recon/audit/run", nil))

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
}

func TestIPAllowlist(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	testCases := []struct {
		name       string
		networks   string
		remoteAddr string
		wantStatus int
	}{
		{"empty list allows all", "", "203.0.113.7:4411", http.StatusOK},
		{"listed network", "196.201.214.0/24", "196.201.214.200:4411", http.StatusOK},
		{"second listed network", "196.201.214.0/24, 196.201.213.0/24", "196.201.213.44:4411", http.StatusOK},
		{"unlisted address", "196.201.214.0/24", "203.0.113.7:4411", http.StatusForbidden},
		{"unparseable remote", "196.201.214.0/24", "not-an-address", http.StatusForbidden},
		{"bad entries are skipped", "not-a-cidr, 196.201.214.0/24", "196.201.214.1:4411", http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := IPAllowlist(tc.networks, next)

			req := httptest.NewRequest(http.MethodPost, "/payments/ledger/confirmation", nil)
			req.RemoteAddr = tc.remoteAddr
			recorder := httptest.NewRecorder()

			handler.ServeHTTP(recorder, req)
			assert.Equal(t, tc.wantStatus, recorder.Code)
		})
	}
}
