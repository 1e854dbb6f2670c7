package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/installconnect/escrow-backend/pkg/config"
	"github.com/installconnect/escrow-backend/pkg/enums"
	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
	"github.com/installconnect/escrow-backend/pkg/logger"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logg := logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}})
	client, err := NewClient(context.Background(), config.GatewayConfig{
		BaseURL:       srv.URL,
		AppID:         "app-1",
		SecretKey:     "secret",
		WebhookSecret: "whsec",
		Timeout:       2 * time.Second,
		MaxRetries:    2,
	}, logg)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestCreateOrderSendsCredentials(t *testing.T) {
	var gotClientID string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClientID = r.Header.Get("x-client-id")
		if r.URL.Path != "/pg/orders" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["order_id"] != "JOB-1" {
			t.Errorf("unexpected order_id %v", body["order_id"])
		}
		_ = json.NewEncoder(w).Encode(Order{
			OrderID:   "JOB-1",
			SessionID: "session-xyz",
			Status:    "ACTIVE",
			Amount:    8200,
		})
	}))

	order, err := client.CreateOrder(context.Background(), OrderCreateParams{
		OrderID:    "JOB-1",
		Amount:     8200,
		CustomerID: "giver-1",
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if order.SessionID != "session-xyz" {
		t.Fatalf("unexpected session id %q", order.SessionID)
	}
	if gotClientID != "app-1" {
		t.Fatalf("expected client id header, got %q", gotClientID)
	}
}

func TestDoRetriesServerErrors(t *testing.T) {
	attempts := 0
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(Transfer{TransferID: "PAYOUT-1", Status: "SUCCESS"})
	}))

	transfer, err := client.InitiateTransfer(context.Background(), TransferParams{
		TransferID:    "PAYOUT-1",
		BeneficiaryID: "bene-1",
		Amount:        7200,
	})
	if err != nil {
		t.Fatalf("InitiateTransfer failed: %v", err)
	}
	if transfer.Status != "SUCCESS" {
		t.Fatalf("unexpected status %q", transfer.Status)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoMapsClientErrors(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "order already exists"})
	}))

	_, err := client.CreateOrder(context.Background(), OrderCreateParams{OrderID: "JOB-1", Amount: 100, CustomerID: "g"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeIdempotency) {
		t.Fatalf("expected idempotency code, got %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK"}`)
	ts := "1693300000"
	sig := ComputeSignature("whsec", ts, body)

	if !VerifySignature("whsec", ts, body, sig) {
		t.Fatal("expected signature to verify")
	}
	if VerifySignature("whsec", ts, []byte(`tampered`), sig) {
		t.Fatal("expected tampered body to fail")
	}
	if VerifySignature("other", ts, body, sig) {
		t.Fatal("expected wrong secret to fail")
	}
}

func TestParseWebhookEvent(t *testing.T) {
	capture := []byte(`{
		"type": "PAYMENT_SUCCESS_WEBHOOK",
		"event_time": "2026-08-01T10:00:00Z",
		"data": {
			"order": {"order_id": "order-77"},
			"payment": {"cf_payment_id": 12345, "payment_amount": 8200}
		}
	}`)

	event, err := ParseWebhookEvent(capture)
	if err != nil {
		t.Fatalf("ParseWebhookEvent failed: %v", err)
	}
	if event.Type != enums.GatewayEventFundsCaptured {
		t.Fatalf("unexpected type %s", event.Type)
	}
	if event.OrderID != "order-77" || event.Amount != 8200 {
		t.Fatalf("unexpected event %+v", event)
	}

	transfer := []byte(`{
		"type": "TRANSFER_FAILED",
		"data": {"transfer": {"transfer_id": "PAYOUT-9", "transfer_amount": 7200}}
	}`)
	event, err = ParseWebhookEvent(transfer)
	if err != nil {
		t.Fatalf("ParseWebhookEvent transfer failed: %v", err)
	}
	if event.Type != enums.GatewayEventPayoutFailed || event.TransferID != "PAYOUT-9" {
		t.Fatalf("unexpected transfer event %+v", event)
	}

	var unknownErr *ErrUnknownEventType
	_, err = ParseWebhookEvent([]byte(`{"type":"SETTLEMENT_WEBHOOK"}`))
	if err == nil {
		t.Fatal("expected unknown event type error")
	}
	if ok := asUnknown(err, &unknownErr); !ok {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}

func asUnknown(err error, target **ErrUnknownEventType) bool {
	u, ok := err.(*ErrUnknownEventType)
	if ok {
		*target = u
	}
	return ok
}
