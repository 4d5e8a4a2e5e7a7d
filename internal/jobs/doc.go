// Package jobs holds the periodic work of the bot and the handler that
// delivers what it produces.
//
// Jobs read DAO state from the subgraph and the chain, resolve voter
// addresses to Farcaster FIDs and enqueue direct casts in batches. The
// "direct-cast" handler performs the send when the queue delivers them.
package jobs
