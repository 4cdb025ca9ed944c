// Package license decides whether the automation features of macrotool may
// run on this machine.
//
// A license file holds a single Fernet token. Decrypted, the token is a
// record of the form
//
//	issued_to|YYYY-MM-DD|signature
//
// where issued_to is the machine identifier the license is bound to, the
// date is the last day the license is valid, and signature is the lowercase
// hex HMAC-SHA256 of "issued_to|YYYY-MM-DD".
//
// # Validation
//
// Validator.Validate checks a license file in a fixed order:
//
//  1. read the file (KindIO)
//  2. decrypt and parse the token (KindCorrupt)
//  3. compare the expiry with today's local date (KindExpired)
//  4. verify the signature in constant time (KindTampered)
//  5. compare issued_to with this machine's identifier (KindMachineMismatch)
//
// Every failure is an *Error whose Kind says which check failed. Errors also
// wrap the matching sentinel from internal/errors so HTTP handlers can map
// them to problem details.
//
// # Entitlement
//
// The result of the startup check is an *Entitlement that callers pass to the
// components they gate. There is no package level license state.
//
//	ent := validator.Check(ctx, "license.key")
//	if err := ent.Require(license.FeatureAutoClick); err != nil {
//		return err
//	}
//
// # Issuing
//
// Issuer produces tokens with the same keys. Validator.Activate validates a
// token before atomically installing it, so a bad token never replaces a
// working license.
package license
