// Package turn issues short-lived TURN long-term credentials signed with the
// shared relay secret, plus a static STUN fallback.
package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"
)

const (
	// CredentialTTL is how long an issued credential stays valid.
	CredentialTTL = 3600 * time.Second

	// usernameSuffix is the realm tag the TURN relay expects after the expiry.
	usernameSuffix = "moli"

	turnURL = "turn:moli-green.is:3478"
	stunURL = "stun:stun.l.google.com:19302"
)

// IceServer is one entry of an RTCPeerConnection iceServers list.
type IceServer struct {
	URLs       string `json:"urls"`
	Username   string `json:"username"`
	Credential string `json:"credential"`
}

// IceConfig is the payload returned by the ice-config endpoint.
type IceConfig struct {
	IceServers []IceServer `json:"iceServers"`
}

// Issuer computes TURN long-term credentials from the shared secret.
// The zero value is not usable; construct with NewIssuer.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer creates an Issuer. The secret is validated at process start by
// config; an empty secret here is a programming error.
func NewIssuer(secret string) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Config returns the ice-server list for a credential expiring CredentialTTL
// from now. Username is "<unix-expiry>:moli"; the credential is the
// base64-encoded HMAC-SHA1 of the username under the shared secret, per the
// TURN REST credential convention.
func (i *Issuer) Config() IceConfig {
	expiry := i.now().Unix() + int64(CredentialTTL/time.Second)
	username := fmt.Sprintf("%d:%s", expiry, usernameSuffix)

	mac := hmac.New(sha1.New, i.secret)
	mac.Write([]byte(username))
	credential := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return IceConfig{
		IceServers: []IceServer{
			{
				URLs:       turnURL,
				Username:   username,
				Credential: credential,
			},
			{
				// STUN needs no credentials; kept as fallback
				URLs:       stunURL,
				Username:   "",
				Credential: "",
			},
		},
	}
}
