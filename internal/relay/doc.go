// Package relay exposes a ledger and a directory over HTTP and provides the
// matching client.
//
// The relay is untrusted: it only ever sees sealed hex frames, public
// identity keys and public pre-key packages. HTTP implements
// domain.Transport, domain.Clock, domain.IdentityDirectory and
// domain.PackageDirectory, so a messaging node needs nothing else to reach
// its peers.
//
// Routes:
//   - POST /v1/frames                        publish a frame
//   - GET  /v1/frames?cursor=N               poll from a block height
//   - GET  /v1/frames/:ref/confirmations     confirmation depth
//   - GET  /v1/frames/:ref/timestamp         transport timestamp in ms
//   - PUT  /v1/identities/:addr              register an identity key
//   - GET  /v1/identities/:addr              look up a fingerprint
//   - PUT  /v1/packages/:addr                publish a CBOR pre-key package
//   - GET  /v1/packages/:addr                fetch it
//
// Bodies are JSON except packages, which travel in their CBOR wire form.
// Not-found, conflict and failed references map to 404, 409 and 410.
package relay
