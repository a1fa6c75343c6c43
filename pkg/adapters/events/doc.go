// Package events carries deployment events between the API, the workers and
// stream observers.
//
// The redis implementation uses one stream per topic. With a consumer group
// each event goes to one reader, which is how the deployment queue is
// shared by workers; without one every reader tails the stream. The memory
// implementation fans out in process and backs tests and the deploy command.
package events
