// Package keystore loads the device private key used to sign connection
// credentials.
//
// Keys are read from a bounded-size source. The bound mirrors the fixed key
// buffer of constrained devices: a source larger than the bound is rejected
// before any byte is read, and no partially read key is ever returned.
//
// # Usage
//
//	key, err := keystore.Load("ec_private.pem", keystore.DefaultMaxSize,
//	    keystore.ES256, keystore.PEM)
//	if err != nil {
//	    log.Error("loading key", "error", err, "hint", keystore.Remediation(err))
//	}
package keystore
