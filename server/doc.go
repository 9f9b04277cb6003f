// Package server implements the OAuth 2.0 grant-flow protocol engine
// defined by RFC 6749: the authorization-code, implicit, resource-owner
// password, client-credentials, and refresh-token grants.
//
// The engine is transport-agnostic and stateless. It consumes parsed
// request parameters (url.Values), sequences the per-grant validation
// checks, and delegates everything stateful to host integrations supplied
// at construction: client registrations, code and token persistence,
// resource-owner interaction, and token minting. Failures surface on one of
// two disjoint channels: *RedirectError for the authorization endpoint
// (delivered by 302 fragment) and *BodyError for the token endpoint
// (delivered as a JSON body with its own status and headers).
//
// The root oauth package provides an http.Handler adapter and a
// reference integration over the storage interfaces.
package server
