// Package redisstore implements store.JobStore on Redis.
//
// Each job is a JSON string under "<prefix>:job:<id>" and a sorted set
// "<prefix>:jobs" indexes the ids by creation time (microseconds). Mutations
// use WATCH/MULTI optimistic transactions and are retried a bounded number
// of times when a concurrent writer touches the watched keys.
package redisstore
