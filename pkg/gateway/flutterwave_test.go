package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newFlutterwaveTestGateway(baseURL string) *FlutterwaveGateway {
	return NewFlutterwaveGateway(FlutterwaveConfig{
		BaseURL:     baseURL,
		SecretKey:   "FLWSECK_TEST-abc",
		WebhookHash: "flw-hash",
		RedirectURL: "https://app.example.com/payments/return",
		Currency:    "UGX",
	})
}

func TestFlutterwaveInitiateCollection_ReturnsPaymentLink(t *testing.T) {
	var payBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments" {
			t.Errorf("unexpected request path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer FLWSECK_TEST-abc" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&payBody); err != nil {
			t.Errorf("decode payment body: %v", err)
		}
		w.Write([]byte(`{"status":"success","data":{"link":"https://checkout.flutterwave.com/pay/abc123"}}`))
	}))
	defer server.Close()

	gw := newFlutterwaveTestGateway(server.URL)
	result := gw.InitiateCollection(context.Background(), CollectionRequest{
		Reference: "INV-2024-03-ABCD1234",
		Amount:    375000,
		Email:     "employer@example.com",
		PayerName: "Acme Farms",
	})

	if !result.Success {
		t.Fatalf("InitiateCollection failed: %s", result.Error)
	}
	if result.PaymentLink != "https://checkout.flutterwave.com/pay/abc123" {
		t.Errorf("PaymentLink = %q", result.PaymentLink)
	}
	if result.ProviderTransactionID != "INV-2024-03-ABCD1234" {
		t.Errorf("ProviderTransactionID = %q, want the tx_ref until the customer pays", result.ProviderTransactionID)
	}
	if got := payBody["tx_ref"]; got != "INV-2024-03-ABCD1234" {
		t.Errorf("tx_ref = %v", got)
	}
	if got := payBody["amount"]; got != "375000" {
		t.Errorf("amount = %v, want string \"375000\"", got)
	}
	if got := payBody["redirect_url"]; got != "https://app.example.com/payments/return" {
		t.Errorf("redirect_url = %v", got)
	}
	customer, _ := payBody["customer"].(map[string]interface{})
	if customer == nil || customer["email"] != "employer@example.com" {
		t.Errorf("customer = %v", payBody["customer"])
	}
}

func TestFlutterwaveInitiateDisbursement_UsesTransferID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transfers" {
			t.Errorf("unexpected request path %s", r.URL.Path)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode transfer body: %v", err)
		}
		if body["account_number"] != "0102030405" {
			t.Errorf("account_number = %v", body["account_number"])
		}
		if body["beneficiary_name"] != "Jane Worker" {
			t.Errorf("beneficiary_name = %v", body["beneficiary_name"])
		}
		w.Write([]byte(`{"status":"success","data":{"id":44556677}}`))
	}))
	defer server.Close()

	gw := newFlutterwaveTestGateway(server.URL)
	result := gw.InitiateDisbursement(context.Background(), DisbursementRequest{
		Reference:     "PAY-2024-03-ABCD1234",
		Amount:        300000,
		AccountNumber: "0102030405",
		AccountName:   "Jane Worker",
		Narration:     "March salary",
	})

	if !result.Success {
		t.Fatalf("InitiateDisbursement failed: %s", result.Error)
	}
	if result.ProviderTransactionID != "44556677" {
		t.Errorf("ProviderTransactionID = %q, want the numeric transfer id", result.ProviderTransactionID)
	}
}

func TestFlutterwaveInitiateDisbursement_ProviderRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"error","message":"Insufficient funds in customer wallet"}`))
	}))
	defer server.Close()

	gw := newFlutterwaveTestGateway(server.URL)
	result := gw.InitiateDisbursement(context.Background(), DisbursementRequest{
		Reference:     "PAY-2024-03-ABCD1234",
		Amount:        300000,
		AccountNumber: "0102030405",
	})

	if result.Success {
		t.Fatal("InitiateDisbursement succeeded despite provider rejection")
	}
	if result.Error == "" {
		t.Error("expected an error message on rejection")
	}
}

func TestFlutterwaveCheckStatus_MapsProviderStatuses(t *testing.T) {
	cases := []struct {
		provider string
		want     Status
	}{
		{"successful", StatusSuccessful},
		{"success", StatusSuccessful},
		{"failed", StatusFailed},
		{"error", StatusFailed},
		{"pending", StatusPending},
	}

	for _, tc := range cases {
		t.Run(tc.provider, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/transactions/44556677/verify" {
					t.Errorf("verify path = %s", r.URL.Path)
				}
				json.NewEncoder(w).Encode(map[string]interface{}{
					"status": "success",
					"data":   map[string]string{"status": tc.provider},
				})
			}))
			defer server.Close()

			gw := newFlutterwaveTestGateway(server.URL)
			result := gw.CheckStatus(context.Background(), "44556677")
			if !result.Success {
				t.Fatalf("CheckStatus failed: %s", result.Error)
			}
			if result.Status != tc.want {
				t.Errorf("Status = %q, want %q", result.Status, tc.want)
			}
		})
	}
}

func TestFlutterwaveValidateWebhook(t *testing.T) {
	gw := newFlutterwaveTestGateway("http://unused")
	body := []byte(`{"tx_ref":"INV-2024-03-ABCD1234","status":"successful"}`)

	good := http.Header{}
	good.Set("verif-hash", "flw-hash")
	if !gw.ValidateWebhook(body, good) {
		t.Error("valid hash rejected")
	}

	bad := http.Header{}
	bad.Set("verif-hash", "other-hash")
	if gw.ValidateWebhook(body, bad) {
		t.Error("wrong hash accepted")
	}

	if gw.ValidateWebhook(body, http.Header{}) {
		t.Error("missing hash accepted")
	}

	unsecured := NewFlutterwaveGateway(FlutterwaveConfig{BaseURL: "http://unused"})
	if unsecured.ValidateWebhook(body, good) {
		t.Error("webhook accepted with no hash configured")
	}
}

func TestFlutterwaveParseWebhook(t *testing.T) {
	gw := newFlutterwaveTestGateway("http://unused")

	event, err := gw.ParseWebhook([]byte(`{
		"id": 44556677,
		"tx_ref": "INV-2024-03-ABCD1234",
		"status": "successful",
		"amount": 375000,
		"currency": "UGX",
		"customer": {"email": "employer@example.com"}
	}`))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if event.ProviderTransactionID != "44556677" {
		t.Errorf("ProviderTransactionID = %q", event.ProviderTransactionID)
	}
	if event.Reference != "INV-2024-03-ABCD1234" {
		t.Errorf("Reference = %q", event.Reference)
	}
	if event.Status != StatusSuccessful {
		t.Errorf("Status = %q, want successful", event.Status)
	}
	if event.Counterparty != "employer@example.com" {
		t.Errorf("Counterparty = %q", event.Counterparty)
	}

	if _, err := gw.ParseWebhook([]byte(`{"status":"successful"}`)); err == nil {
		t.Error("payload without id or tx_ref parsed")
	}
}
