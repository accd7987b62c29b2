package lsp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/blixtwallet/blixtd/pkg/lsp"
	"github.com/stretchr/testify/require"
)

func TestOnDemandServiceStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/ondemand-channel/service-status", r.URL.Path)
		fmt.Fprint(w, `{"status":true,"approxFeeSat":500,"minimumPaymentSat":20000,"peer":"03abc@9.9.9.9:9735"}`)
	}))
	defer server.Close()

	client := lsp.NewOnDemandClient(server.URL)
	status, err := client.ServiceStatus(context.Background())
	require.NoError(t, err)
	require.True(t, status.Status)
	require.Equal(t, int64(500), status.ApproxFeeSat)
	require.Equal(t, "03abc@9.9.9.9:9735", status.PeerURI)
}

func TestOnDemandRegister(t *testing.T) {
	var got lsp.RegisterRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/ondemand-channel/register", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"status":"OK"}`)
	}))
	defer server.Close()

	client := lsp.NewOnDemandClient(server.URL)
	response, err := client.Register(context.Background(), lsp.RegisterRequest{
		Pubkey:    "02ournode",
		Signature: "sigoverpreimage",
		Preimage:  "00112233",
		AmountSat: 25000,
	})
	require.NoError(t, err)
	require.Equal(t, "OK", response.Status)
	require.Equal(t, "02ournode", got.Pubkey)
	require.Equal(t, int64(25000), got.AmountSat)
}

func TestOnDemandCheckStatusAndClaim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ondemand-channel/check-status":
			fmt.Fprint(w, `{"state":"WAITING_FOR_SETTLEMENT","unclaimedAmountSat":25000}`)
		case "/ondemand-channel/claim":
			fmt.Fprint(w, `{"status":"OK","amountSat":25000}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := lsp.NewOnDemandClient(server.URL)

	status, err := client.CheckStatus(context.Background(), lsp.CheckStatusRequest{Pubkey: "02ournode"})
	require.NoError(t, err)
	require.Equal(t, "WAITING_FOR_SETTLEMENT", status.State)
	require.Equal(t, int64(25000), status.UnclaimedAmountSat)

	claim, err := client.Claim(context.Background(), lsp.ClaimRequest{Pubkey: "02ournode"})
	require.NoError(t, err)
	require.Equal(t, int64(25000), claim.AmountSat)
}

func TestOnDemandErrorResponses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ondemand-channel/service-status":
			fmt.Fprint(w, `{"status":"ERROR","reason":"service is down for maintenance"}`)
		case "/ondemand-channel/register":
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"status":"ERROR","reason":"amount below minimum"}`)
		}
	}))
	defer server.Close()

	client := lsp.NewOnDemandClient(server.URL)

	_, err := client.ServiceStatus(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "maintenance")

	_, err = client.Register(context.Background(), lsp.RegisterRequest{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "amount below minimum")
}
