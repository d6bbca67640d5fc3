// Package authwallet authenticates a Lumen wallet to storage gateways with
// a hybrid post-quantum scheme.
//
// Every wallet address owns a local post-quantum signing key that the chain
// commits to by hash. The client keeps the local keystore and the chain in
// agreement, links new keys on chain behind a proof-of-work, and sends
// gateway requests signed with the wallet's secp256k1 key and encrypted
// under an ML-KEM-768 shared secret.
//
// Basic usage:
//
//	client, err := authwallet.New(
//	    authwallet.WithPeersFile("resources/peers.txt"),
//	    authwallet.WithLinkSubmitter(submitter),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Reconcile keys and link on chain if needed
//	if _, err := client.Prepare(ctx, address, ""); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Call a gateway by on-chain name
//	resp, err := client.Call(ctx, "gtw.example.lmn", authwallet.Request{
//	    Path:    "/wallet/usage",
//	    Wallet:  address,
//	    Payload: map[string]string{"period": "month"},
//	}, walletSigner)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Integrity failures, a chain commitment with no local key or a key that
// does not match it, are never repaired automatically. Check them with
// IsIntegrityError.
package authwallet
