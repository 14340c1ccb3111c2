// Package storage is the metrics storage engine for swarmstore.
//
// It orchestrates the full data lifecycle for task, agent and swarm
// metrics produced by a multi-agent execution system:
//
//	Record* → buffer → db (detailed tables)
//	                     │ compaction (hourly, then daily buckets)
//	                     │ retention (tiered expiry + purge)
//	                     └ query / export
//
// Producers call RecordTask, RecordAgentMetric and RecordSwarmMetric;
// consumers use Records, Aggregate, Percentile, TopN and Export. The
// Service owns every component's lifecycle: Start launches the buffer
// flusher and the retention schedule, Stop drains the buffer and closes
// the database.
package storage
