// Package app wires application dependencies for the CLI.
//
// Config is read from the environment (and an optional .env file). NewWire
// builds the shared stores, transport and directories from it; Wire.Open
// unlocks the local identity and assembles the messaging services on top.
package app
