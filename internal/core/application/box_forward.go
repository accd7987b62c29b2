package application

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/blixtwallet/blixtd/internal/core/domain"
	"github.com/sirupsen/logrus"
)

// BoxForwardMessageType is the custom peer-message type for forwarding
// LNURL-pay requests from a Lightning Box server to the node that actually
// issues the invoice (32768 + 691).
const BoxForwardMessageType uint32 = 33459

const (
	boxPayRequest1         = "LNURLPAY_REQUEST1"
	boxPayRequest1Response = "LNURLPAY_REQUEST1_RESPONSE"
	boxPayRequest2         = "LNURLPAY_REQUEST2"
	boxPayRequest2Response = "LNURLPAY_REQUEST2_RESPONSE"
)

const (
	boxMinSendableMsat   int64 = 1_000
	boxMaxSendableMsat   int64 = 1_000_000_000
	boxCommentAllowed          = 500
	boxInvoiceExpirySecs int64 = 600
)

type boxForwardMessage struct {
	ID      string          `json:"id"`
	Request string          `json:"request"`
	Data    json.RawMessage `json:"data"`
}

type boxPayParams struct {
	Tag            string `json:"tag"`
	MinSendable    int64  `json:"minSendable"`
	MaxSendable    int64  `json:"maxSendable"`
	Metadata       string `json:"metadata"`
	CommentAllowed int    `json:"commentAllowed"`
}

type boxPayOrder struct {
	AmountMsat int64  `json:"amount"`
	Comment    string `json:"comment"`
}

type boxPayOrderResponse struct {
	PR            string   `json:"pr"`
	Routes        []string `json:"routes"`
	SuccessAction any      `json:"successAction"`
}

type boxError struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// handleBoxForward answers LNURL-pay requests relayed over the peer
// connection by a Lightning Box server. REQUEST1 returns the pay parameters;
// REQUEST2 carries the chosen amount and yields a fresh invoice, which is
// sent back only once the engine confirms it open.
func (s *Service) handleBoxForward(ctx context.Context, peerPubkey string, data []byte) {
	var msg boxForwardMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logrus.WithError(err).Warn("malformed box forward message")
		return
	}

	switch msg.Request {
	case boxPayRequest1:
		s.answerBoxRequest1(ctx, peerPubkey, msg.ID)
	case boxPayRequest2:
		s.answerBoxRequest2(ctx, peerPubkey, msg.ID, msg.Data)
	default:
		logrus.Warnf("unknown box forward request %q from %s", msg.Request, peerPubkey)
	}
}

func (s *Service) answerBoxRequest1(ctx context.Context, peerPubkey, id string) {
	params := boxPayParams{
		Tag:            "payRequest",
		MinSendable:    boxMinSendableMsat,
		MaxSendable:    boxMaxSendableMsat,
		Metadata:       fmt.Sprintf(`[["text/plain","Payment to %s"]]`, s.pubkey),
		CommentAllowed: boxCommentAllowed,
	}
	if err := s.sendBoxResponse(ctx, peerPubkey, id, boxPayRequest1Response, params); err != nil {
		logrus.WithError(err).Error("failed to answer box pay request")
	}
}

func (s *Service) answerBoxRequest2(ctx context.Context, peerPubkey, id string, data []byte) {
	var order boxPayOrder
	if err := json.Unmarshal(data, &order); err != nil {
		logrus.WithError(err).Warn("malformed box pay order")
		s.sendBoxError(ctx, peerPubkey, id, "malformed request")
		return
	}

	if order.AmountMsat < boxMinSendableMsat || order.AmountMsat > boxMaxSendableMsat {
		s.sendBoxError(ctx, peerPubkey, id, fmt.Sprintf(
			"amount %d msat out of bounds [%d, %d]",
			order.AmountMsat, boxMinSendableMsat, boxMaxSendableMsat,
		))
		return
	}

	comment := order.Comment
	if len(comment) > boxCommentAllowed {
		comment = comment[:boxCommentAllowed]
	}

	entry := PendingEntry{
		Type:  domain.TxTypeBoxForward,
		Payer: peerPubkey,
		InvoiceIssued: func(paymentRequest string) {
			response := boxPayOrderResponse{
				PR:     paymentRequest,
				Routes: []string{},
			}
			if err := s.sendBoxResponse(
				context.Background(), peerPubkey, id, boxPayRequest2Response, response,
			); err != nil {
				logrus.WithError(err).Error("failed to deliver box invoice")
			}
		},
	}

	if _, _, err := s.AddInvoice(
		ctx, order.AmountMsat/1000, comment, boxInvoiceExpirySecs, &entry,
	); err != nil {
		logrus.WithError(err).Error("failed to create box invoice")
		s.sendBoxError(ctx, peerPubkey, id, "unable to create invoice")
	}
}

func (s *Service) sendBoxResponse(
	ctx context.Context, peerPubkey, id, request string, payload any,
) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal box response: %w", err)
	}
	msg, err := json.Marshal(boxForwardMessage{ID: id, Request: request, Data: data})
	if err != nil {
		return fmt.Errorf("marshal box message: %w", err)
	}
	return s.lnSvc.SendCustomMessage(ctx, peerPubkey, BoxForwardMessageType, msg)
}

func (s *Service) sendBoxError(ctx context.Context, peerPubkey, id, reason string) {
	payload := boxError{Status: "ERROR", Reason: reason}
	if err := s.sendBoxResponse(ctx, peerPubkey, id, boxPayRequest2Response, payload); err != nil {
		logrus.WithError(err).Warn("failed to deliver box error response")
	}
}
