// Package jwt issues and verifies the signed access and refresh tokens used by
// authcore. Tokens carry the principal id as "sub" and their kind as "typ";
// verification is signature-first and never touches the network.
package jwt
