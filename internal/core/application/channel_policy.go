package application

import (
	"github.com/blixtwallet/blixtd/internal/core/domain"
	"github.com/blixtwallet/blixtd/internal/core/ports"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/sirupsen/logrus"
)

const (
	rejectReasonCommitmentType = "channel type not supported, only anchor channels are accepted"
)

// EvaluateChannelProposal decides an inbound channel-open proposal against
// the current settings snapshot. The decision is pure: same proposal and
// settings always yield the same answer.
//
// Commitment types predating anchor outputs are rejected outright. Zero-conf
// is granted only to peers on the allow-list; a zero-conf request from anyone
// else is still accepted, just without the zero-conf concession, since the
// funder can always fall back to waiting for confirmations.
func EvaluateChannelProposal(
	proposal ports.ChannelProposal, settings domain.Settings,
) ports.ChannelDecision {
	switch proposal.CommitmentType {
	case lnrpc.CommitmentType_ANCHORS,
		lnrpc.CommitmentType_SCRIPT_ENFORCED_LEASE,
		lnrpc.CommitmentType_SIMPLE_TAPROOT:
	default:
		logrus.WithFields(logrus.Fields{
			"peer":           proposal.NodePubkey,
			"pendingChanId":  proposal.PendingChanID,
			"commitmentType": proposal.CommitmentType.String(),
		}).Info("rejecting channel proposal")
		return ports.ChannelDecision{
			Accept: false,
			Error:  rejectReasonCommitmentType,
		}
	}

	zeroConf := proposal.WantsZeroConf && settings.AllowsZeroConfFrom(proposal.NodePubkey)

	logrus.WithFields(logrus.Fields{
		"peer":          proposal.NodePubkey,
		"pendingChanId": proposal.PendingChanID,
		"zeroConf":      zeroConf,
	}).Info("accepting channel proposal")

	return ports.ChannelDecision{Accept: true, ZeroConf: zeroConf}
}
