package lnd

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// getClient dials the node described by an lndconnect url:
// lndconnect://host:port?cert=<base64url DER>&macaroon=<base64url>.
// The macaroon is returned hex encoded, ready for the grpc metadata header.
func getClient(lndconnectUrl string) (
	lnrpc.LightningClient, routerrpc.RouterClient, *grpc.ClientConn, string, error,
) {
	parsed, err := url.Parse(lndconnectUrl)
	if err != nil {
		return nil, nil, nil, "", fmt.Errorf("invalid lndconnect url: %w", err)
	}
	if parsed.Scheme != "lndconnect" {
		return nil, nil, nil, "", fmt.Errorf("invalid lndconnect url scheme: %s", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, nil, nil, "", fmt.Errorf("lndconnect url is missing host")
	}

	creds := insecure.NewCredentials()
	if cert := parsed.Query().Get("cert"); len(cert) > 0 {
		der, err := base64.RawURLEncoding.DecodeString(cert)
		if err != nil {
			return nil, nil, nil, "", fmt.Errorf("invalid cert encoding: %w", err)
		}
		parsedCert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, nil, nil, "", fmt.Errorf("invalid cert: %w", err)
		}
		pool := x509.NewCertPool()
		pool.AddCert(parsedCert)
		creds = credentials.NewClientTLSFromCert(pool, "")
	}

	var macaroon string
	if mac := parsed.Query().Get("macaroon"); len(mac) > 0 {
		decoded, err := base64.RawURLEncoding.DecodeString(mac)
		if err != nil {
			return nil, nil, nil, "", fmt.Errorf("invalid macaroon encoding: %w", err)
		}
		macaroon = hex.EncodeToString(decoded)
	}

	conn, err := grpc.NewClient(parsed.Host, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, nil, nil, "", fmt.Errorf("failed to dial %s: %w", parsed.Host, err)
	}

	return lnrpc.NewLightningClient(conn), routerrpc.NewRouterClient(conn), conn, macaroon, nil
}

func getCtx(ctx context.Context, macaroon string) context.Context {
	if len(macaroon) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "macaroon", macaroon)
}
