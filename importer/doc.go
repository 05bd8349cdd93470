// Package importer moves the nodes of a source into a batch-transactional sink.
//
// A Dispatcher walks its Source once and routes every node, wrapped in a
// core.Message, to one of the workers of a Pool. Each worker owns a single
// Consumer and groups the messages it receives into batches that are
// committed as a whole or rolled back as a whole. Nodes sharing a partition
// key always reach the same worker, so siblings are applied in the order the
// source produced them.
//
// The pool starts with one worker and grows, up to Config.MaxWorkers, when
// the ThreadingPolicy allows it on entering a container. At the end of the
// walk every worker receives a poison pill, commits what it holds and stops.
//
// Job lifecycle events are reported to a JobHistory. Batch failures are
// collected into the Result and only fail the job when nothing could be
// committed at all.
package importer
