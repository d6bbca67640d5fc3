//go:build integration

package integration

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/lumen-wallet/authwallet-go"
)

// freshKey returns the hex private key of a newly generated wallet.
func freshKey(t *testing.T) string {
	t.Helper()
	for {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			t.Fatal(err)
		}
		k := hex.EncodeToString(raw)
		if _, err := authwallet.WalletSignerFromHex(k); err == nil {
			return k
		}
	}
}
