package crypto

import (
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
)

const (
	// SchemeDilithium3 is the chain's default PQ account scheme.
	SchemeDilithium3 = "dilithium3"
	// SchemeMLDSA65 is the FIPS 204 successor of Dilithium3.
	SchemeMLDSA65 = "mldsa65"
)

// SigningKeypair is a raw post-quantum signing keypair.
type SigningKeypair struct {
	Scheme     string
	PublicKey  []byte
	PrivateKey []byte
}

// GenerateSigningKeypair creates a fresh PQ signing keypair for scheme.
func GenerateSigningKeypair(scheme string) (*SigningKeypair, error) {
	var (
		pubBytes, privBytes []byte
		err                 error
	)

	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case SchemeDilithium3, "":
		scheme = SchemeDilithium3
		pub, priv, genErr := mode3.GenerateKey(reader())
		if genErr != nil {
			return nil, fmt.Errorf("generate %s key: %w", scheme, genErr)
		}
		if pubBytes, err = pub.MarshalBinary(); err != nil {
			return nil, err
		}
		if privBytes, err = priv.MarshalBinary(); err != nil {
			return nil, err
		}
	case SchemeMLDSA65:
		scheme = SchemeMLDSA65
		pub, priv, genErr := mldsa65.GenerateKey(reader())
		if genErr != nil {
			return nil, fmt.Errorf("generate %s key: %w", scheme, genErr)
		}
		if pubBytes, err = pub.MarshalBinary(); err != nil {
			return nil, err
		}
		if privBytes, err = priv.MarshalBinary(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}

	return &SigningKeypair{
		Scheme:     scheme,
		PublicKey:  pubBytes,
		PrivateKey: privBytes,
	}, nil
}
