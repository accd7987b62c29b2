package lnurl_test

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/blixtwallet/blixtd/pkg/lnurl"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/require"
)

func staticSigner(signature string) lnurl.Signer {
	return func(context.Context, []byte) (string, error) {
		return signature, nil
	}
}

func loginParamsFor(t *testing.T, serverURL, k1 string) *lnurl.LoginParams {
	t.Helper()
	parsed, err := url.Parse(serverURL)
	require.NoError(t, err)
	return &lnurl.LoginParams{
		K1:     k1,
		URL:    serverURL + "/auth?tag=login&k1=" + k1,
		Domain: parsed.Hostname(),
	}
}

func TestDoAuth(t *testing.T) {
	k1Bytes := make([]byte, 32)
	_, err := rand.Read(k1Bytes)
	require.NoError(t, err)
	k1 := hex.EncodeToString(k1Bytes)

	var gotSig, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.URL.Query().Get("sig")
		gotKey = r.URL.Query().Get("key")
		fmt.Fprint(w, `{"status":"OK"}`)
	}))
	defer server.Close()

	client := lnurl.NewClient()
	err = client.DoAuth(
		context.Background(),
		loginParamsFor(t, server.URL, k1),
		staticSigner("node signature over canonical phrase"),
	)
	require.NoError(t, err)

	// the service can verify the DER signature over k1 with the linking key
	keyBytes, err := hex.DecodeString(gotKey)
	require.NoError(t, err)
	pubKey, err := secp256k1.ParsePubKey(keyBytes)
	require.NoError(t, err)

	sigBytes, err := hex.DecodeString(gotSig)
	require.NoError(t, err)
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	require.NoError(t, err)
	require.True(t, sig.Verify(k1Bytes, pubKey))
}

func TestDoAuthLinkingKeyIsDomainScoped(t *testing.T) {
	k1Bytes := make([]byte, 32)
	_, err := rand.Read(k1Bytes)
	require.NoError(t, err)
	k1 := hex.EncodeToString(k1Bytes)

	keys := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys <- r.URL.Query().Get("key")
		fmt.Fprint(w, `{"status":"OK"}`)
	}))
	defer server.Close()

	client := lnurl.NewClient()
	signer := staticSigner("node signature over canonical phrase")

	login := func(domain string) string {
		params := loginParamsFor(t, server.URL, k1)
		params.Domain = domain
		require.NoError(t, client.DoAuth(context.Background(), params, signer))
		return <-keys
	}

	first := login("service-a.example")
	second := login("service-a.example")
	other := login("service-b.example")

	require.Equal(t, first, second, "same domain must derive the same identity")
	require.NotEqual(t, first, other, "identities must not link across domains")
}

func TestDoAuthRejectsBadChallenge(t *testing.T) {
	client := lnurl.NewClient()
	signer := staticSigner("sig")

	t.Run("missing k1", func(t *testing.T) {
		err := client.DoAuth(context.Background(), &lnurl.LoginParams{Domain: "x.example"}, signer)
		require.Error(t, err)
	})

	t.Run("non-hex k1", func(t *testing.T) {
		err := client.DoAuth(context.Background(), &lnurl.LoginParams{
			K1: "zzzz", Domain: "x.example",
		}, signer)
		require.Error(t, err)
	})

	t.Run("short k1", func(t *testing.T) {
		short := hex.EncodeToString(sha256.New().Sum(nil)[:16])
		err := client.DoAuth(context.Background(), &lnurl.LoginParams{
			K1: short, Domain: "x.example",
		}, signer)
		require.Error(t, err)
	})
}
