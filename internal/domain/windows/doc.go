// Package windows tracks which windows were spawned from which, grouping
// them into clusters that share a single owning agent.
//
// A window's agent must survive individual window closures as long as some
// window in its group is still open (closing one step of a multi-window
// wizard should not kill the agent mid-task), but the last window closing
// must reclaim the agent resource. When a group's root closes while members
// remain, the lexicographically smallest survivor is promoted so the choice
// is deterministic.
package windows
