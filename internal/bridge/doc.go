// Package bridge is the session core of claude-relay: it multiplexes one
// upstream Claude CLI stream per session with any number of browser
// observers, preserving conversation state across browser reconnects, CLI
// process deaths and server restarts.
//
// Each Session serializes its handlers behind one coarse mutex. Broadcast
// frames carry monotonic per-session sequence numbers and a bounded window
// of them is buffered, so a reconnecting browser replays exactly what it
// missed; gaps beyond the window fall back to a full history snapshot.
// Browser retries are deduplicated by client_msg_id, permission round trips
// are correlated by request_id, and frames bound for a dead CLI queue until
// the launcher brings a new process up.
//
// The package talks to its collaborators — launcher, session store, plugin
// manager, repository metadata resolver — strictly through the interfaces in
// collab.go; it never spawns processes, touches disk or interprets tool
// semantics itself.
package bridge
