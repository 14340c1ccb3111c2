// Package types defines the core data types used throughout the storage engine.
//
// Key types:
//   - TaskMetric, AgentMetric, SwarmMetric: detailed metric records
//   - ArchiveBucket: compacted statistics for a time bucket
//   - Level: aggregation level of archived data (hourly, daily)
//   - Table: the four persisted tables
package types
