// Package terminaltoken verifies the capability tokens that grant access to an
// instance's web terminal.
//
// # Wire Format
//
// A token is a single string:
//
//	<hexTimestamp>.<hexSignature>
//
// hexTimestamp is the issuance time in seconds since the epoch, base 16.
// hexSignature is the lowercase hex HMAC-SHA256 of
//
//	instanceID + ":" + hexTimestamp
//
// keyed with the shared secret, optionally truncated by the issuer. The
// signature is computed over the timestamp segment exactly as it appears in the
// token, so the format must be reproduced bit-for-bit by the issuer.
//
// # Verification
//
// A token is accepted when all of the following hold:
//
//   - it contains a "." separator
//   - the timestamp segment is non-empty hexadecimal
//   - now - issuedAt <= ttlSeconds (timestamps in the future are not rejected)
//   - the signature is non-empty and at least MinSignatureLength characters
//   - the signature equals the expected digest truncated to its length,
//     compared in constant time
//
// Tokens are bound to an instance: the instance ID is not part of the token and
// is supplied out-of-band by the reverse proxy.
//
// # Usage
//
//	v, err := terminaltoken.NewValidator(secret, terminaltoken.Options{TTLSeconds: 86400})
//	if err != nil {
//	    return err
//	}
//	if err := v.Check(instanceID, token, time.Now().Unix()); err != nil {
//	    // reject; err is for logs only
//	}
//
// Validate is the boolean form and the package-level Validate is the pure
// function with every input explicit.
package terminaltoken
