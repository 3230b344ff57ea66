// Package scheduler runs labeled, repeating background tasks.
//
// Each task is registered under a Label that is unique among live tasks. A task repeats at a
// fixed cadence (ticks never wait for the previous run to finish) until StopTask is called or
// its optional timeout expires. Options add a synchronous run at registration (leading) and at
// cancellation (edging).
//
// Ticks are driven by a single robfig/cron instance; registry mutations are serialized by one
// mutex and actions always run outside it.
package scheduler
