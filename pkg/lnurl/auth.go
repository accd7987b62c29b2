package lnurl

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// AuthCanonicalPhrase is the LUD-13 phrase whose node signature seeds the
// per-domain linking keys. The signature itself never leaves the device.
const AuthCanonicalPhrase = "DO NOT EVER SIGN THIS TEXT WITH YOUR PRIVATE KEYS! " +
	"IT IS ONLY USED FOR DERIVATION OF LNURL-AUTH HASHING-KEY, DISCLOSING ITS " +
	"SIGNATURE WILL COMPROMISE YOUR LNURL-AUTH IDENTITY AND MAY LEAD TO LOSS OF FUNDS!"

// Signer produces the engine's signature over msg with the node identity key.
type Signer func(ctx context.Context, msg []byte) (signature string, err error)

// deriveLinkingKey derives the domain-scoped auth keypair: the hashing key
// is the sha256 of the canonical-phrase signature, and the linking key is
// HMAC-SHA256(hashingKey, domain). Same wallet, same domain, same identity.
func deriveLinkingKey(signature, domain string) *secp256k1.PrivateKey {
	hashingKey := sha256.Sum256([]byte(signature))
	mac := hmac.New(sha256.New, hashingKey[:])
	mac.Write([]byte(domain))
	priv := secp256k1.PrivKeyFromBytes(mac.Sum(nil))
	return priv
}

// DoAuth answers a login challenge: it signs the service's k1 with the
// domain's linking key and posts signature and linking pubkey back to the
// callback.
func (c *Client) DoAuth(ctx context.Context, params *LoginParams, sign Signer) error {
	if params.K1 == "" {
		return fmt.Errorf("login challenge is missing k1")
	}
	k1, err := hex.DecodeString(params.K1)
	if err != nil {
		return fmt.Errorf("decode k1: %w", err)
	}
	if len(k1) != 32 {
		return fmt.Errorf("k1 must be 32 bytes, got %d", len(k1))
	}

	signature, err := sign(ctx, []byte(AuthCanonicalPhrase))
	if err != nil {
		return fmt.Errorf("sign canonical phrase: %w", err)
	}

	priv := deriveLinkingKey(signature, params.Domain)
	challengeSig := ecdsa.Sign(priv, k1)

	callback, err := callbackURL(params.URL, map[string]string{
		"sig": hex.EncodeToString(challengeSig.Serialize()),
		"key": hex.EncodeToString(priv.PubKey().SerializeCompressed()),
	})
	if err != nil {
		return err
	}

	return c.getStatus(ctx, callback)
}
