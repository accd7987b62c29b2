package lsp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/blixtwallet/blixtd/pkg/correlate"
	"github.com/blixtwallet/blixtd/pkg/lsp"
	"github.com/stretchr/testify/require"
)

const lspPeer = "02lsppubkey"

// orderInvoice is a bolt11 test vector for 2,000,000 sat.
const (
	orderInvoice   = "lnbc20m1pvjluezpp5qqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqypqhp58yjmdan79s6qqdhdzgynm4zwqd5d7xmw5fk98klysy043l2ahrqscc6gd6ql3jrc5yzme8v4ntcewwz5cnw92tz0pc8qcuufvq7khhr8wpald05e92xw006sq94mg8v2ndf4sefvf9sygkshp5zfem29trqq2yxxz7"
	orderTotalSat  = "2000000"
	orderFeeSat    = "10000"
	orderClientSat = "1990000"
)

var validGetInfoResult = map[string]any{
	"options": map[string]any{
		"min_required_channel_confirmations": 0,
		"min_onchain_payment_confirmations":  1,
		"supports_zero_channel_reserve":      true,
		"min_onchain_payment_size_sat":       "10000",
		"max_channel_expiry_blocks":          20160,
		"min_initial_client_balance_sat":     "0",
		"max_initial_client_balance_sat":     "100000000",
		"min_initial_lsp_balance_sat":        "0",
		"max_initial_lsp_balance_sat":        "100000000",
		"min_channel_balance_sat":            "50000",
		"max_channel_balance_sat":            "100000000",
	},
}

// replyingSender decodes each outgoing request and feeds the canned result
// back through HandleMessage, like the custom-message stream would.
func replyingSender(client **lsp.Client, makeResponse func(id string) []byte) lsp.Sender {
	return func(_ context.Context, peer string, msgType uint32, data []byte) error {
		var request struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &request); err != nil {
			return err
		}
		go (*client).HandleMessage(peer, msgType, makeResponse(request.ID))
		return nil
	}
}

func rpcResult(id string, result any) []byte {
	payload, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
	return payload
}

func TestGetInfo(t *testing.T) {
	var client *lsp.Client
	client = lsp.NewClient(lspPeer, replyingSender(&client, func(id string) []byte {
		return rpcResult(id, validGetInfoResult)
	}), time.Second)

	info, err := client.GetInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(20160), info.Options.MaxChannelExpiryBlocks)
	require.Equal(t, "50000", info.Options.MinChannelBalanceSat)
}

func TestGetInfoValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(options map[string]any)
	}{
		{"non-numeric sat amount", func(o map[string]any) {
			o["min_channel_balance_sat"] = "lots"
		}},
		{"missing sat amount", func(o map[string]any) {
			o["max_channel_balance_sat"] = ""
		}},
		{"negative sat amount", func(o map[string]any) {
			o["min_initial_lsp_balance_sat"] = "-1"
		}},
		{"zero channel expiry", func(o map[string]any) {
			o["max_channel_expiry_blocks"] = 0
		}},
		{"inverted lsp balance bounds", func(o map[string]any) {
			o["min_initial_lsp_balance_sat"] = "200"
			o["max_initial_lsp_balance_sat"] = "100"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, _ := json.Marshal(validGetInfoResult)
			var result map[string]any
			require.NoError(t, json.Unmarshal(raw, &result))
			tt.mutate(result["options"].(map[string]any))

			var client *lsp.Client
			client = lsp.NewClient(lspPeer, replyingSender(&client, func(id string) []byte {
				return rpcResult(id, result)
			}), time.Second)

			_, err := client.GetInfo(context.Background())
			require.ErrorIs(t, err, lsp.ErrValidation)
		})
	}
}

func validCreateOrderResult() map[string]any {
	return map[string]any{
		"order_id":           "order-123",
		"lsp_balance_sat":    "1000000",
		"client_balance_sat": orderClientSat,
		"order_state":        "CREATED",
		"payment": map[string]any{
			"bolt11": map[string]any{
				"state":           "EXPECT_PAYMENT",
				"expires_at":      "2026-01-01T00:00:00Z",
				"fee_total_sat":   orderFeeSat,
				"order_total_sat": orderTotalSat,
				"invoice":         orderInvoice,
			},
		},
	}
}

func TestCreateOrder(t *testing.T) {
	var client *lsp.Client
	client = lsp.NewClient(lspPeer, replyingSender(&client, func(id string) []byte {
		return rpcResult(id, validCreateOrderResult())
	}), time.Second)

	order, err := client.CreateOrder(context.Background(), lsp.CreateOrderRequest{
		LspBalanceSat:    "1000000",
		ClientBalanceSat: orderClientSat,
	})
	require.NoError(t, err)
	require.Equal(t, "order-123", order.OrderID)
	require.Equal(t, orderInvoice, order.Payment.Bolt11.Invoice)
}

func TestCreateOrderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(result map[string]any)
	}{
		{"missing order id", func(r map[string]any) {
			r["order_id"] = ""
		}},
		{"missing bolt11 payment", func(r map[string]any) {
			r["payment"] = map[string]any{}
		}},
		{"totals do not add up", func(r map[string]any) {
			bolt11 := r["payment"].(map[string]any)["bolt11"].(map[string]any)
			bolt11["fee_total_sat"] = "999"
		}},
		{"undecodable invoice", func(r map[string]any) {
			bolt11 := r["payment"].(map[string]any)["bolt11"].(map[string]any)
			bolt11["invoice"] = "lnbc1notaninvoice"
		}},
		{"invoice amount differs from order total", func(r map[string]any) {
			bolt11 := r["payment"].(map[string]any)["bolt11"].(map[string]any)
			bolt11["order_total_sat"] = "1999999"
			r["client_balance_sat"] = "1989999"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validCreateOrderResult()
			tt.mutate(result)

			var client *lsp.Client
			client = lsp.NewClient(lspPeer, replyingSender(&client, func(id string) []byte {
				return rpcResult(id, result)
			}), time.Second)

			_, err := client.CreateOrder(context.Background(), lsp.CreateOrderRequest{})
			require.ErrorIs(t, err, lsp.ErrValidation)
		})
	}
}

func TestRPCError(t *testing.T) {
	var client *lsp.Client
	client = lsp.NewClient(lspPeer, replyingSender(&client, func(id string) []byte {
		payload, _ := json.Marshal(map[string]any{
			"jsonrpc": "2.0",
			"id":      id,
			"error":   map[string]any{"code": 1, "message": "option_mismatch"},
		})
		return payload
	}), time.Second)

	_, err := client.GetInfo(context.Background())
	require.ErrorIs(t, err, lsp.ErrRPC)
	require.Contains(t, err.Error(), "option_mismatch")
}

func TestNoReplyTimesOut(t *testing.T) {
	dropped := func(context.Context, string, uint32, []byte) error { return nil }
	client := lsp.NewClient(lspPeer, dropped, 100*time.Millisecond)

	_, err := client.GetInfo(context.Background())
	require.ErrorIs(t, err, correlate.ErrTimeout)
}

func TestSendFailure(t *testing.T) {
	failing := func(context.Context, string, uint32, []byte) error {
		return fmt.Errorf("peer offline")
	}
	client := lsp.NewClient(lspPeer, failing, time.Second)

	_, err := client.GetInfo(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "peer offline")
}

func TestHandleMessageIgnoresUnrelated(t *testing.T) {
	client := lsp.NewClient(lspPeer, func(context.Context, string, uint32, []byte) error {
		return nil
	}, time.Second)

	require.False(t, client.HandleMessage("02someoneelse", lsp.MessageType, rpcResult("x", nil)))
	require.False(t, client.HandleMessage(lspPeer, 9999, rpcResult("x", nil)))
	require.False(t, client.HandleMessage(lspPeer, lsp.MessageType, []byte("not json")))
	require.False(t, client.HandleMessage(lspPeer, lsp.MessageType, []byte(`{"jsonrpc":"2.0","id":"nobody","result":{}}`)))
	require.False(t, client.HandleMessage(lspPeer, lsp.MessageType, []byte(`{"jsonrpc":"1.0","id":"x","result":{}}`)))
}
