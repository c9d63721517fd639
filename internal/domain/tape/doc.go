// Package tape implements the append-only conversation log shared by every
// agent channel in the workspace.
//
// Turns are appended in real time order and tagged with the channel that
// produced them (main or a specific window). The tape itself is never
// truncated; trimming and filtering happen only in the views it produces
// for prompt assembly. On restart the tape is rebuilt wholesale from the
// persisted session log via Restore.
package tape
