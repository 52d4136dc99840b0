/*
Package types defines the data shared by the pool, the run driver and the sinks.

A Request is one (method, path) pair of a batch. Every Request submitted to a
pool yields exactly one StatsRecord, whether it succeeded or ran out of retries:

  - Success is false only when the retry budget was exhausted; HTTP error
    statuses still count as successes
  - Retries is the number of failed attempts before the final outcome
  - TimeConnect and TimeData are microseconds; TimeConnect is NoConnect when
    the request reused an open session
  - Size and Status are zero on failed records

IterationRecord adds the iteration number for storage and CSV output.
*/
package types
