// Package assembly builds the prompt-ready context handed to a new or
// resumed agent: a windowed view of recent main-channel conversation, the
// list of currently open windows, and a consolidated log of prior user
// interactions.
package assembly
