// Package commands defines the chainmail CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init         Create the local identity for an address
//   - fingerprint  Print the identity fingerprint
//   - register     Announce the identity key and publish pre-keys
//   - send         Encrypt and send a message, opening a session if needed
//   - close        Close the open session with a peer
//   - run          Stay online: ingest, confirm deliveries, rotate pre-keys
//   - sessions     List conversations
//   - history      Print the messages of one conversation
//
// # Implementation
//
// Configuration comes from CHAINMAIL_* environment variables (and .env);
// the persistent flags override the common ones. The root command builds
// the shared stores and clients before any subcommand runs; commands that
// need keys unlock the identity with the passphrase.
package commands
