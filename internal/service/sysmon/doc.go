// Package sysmon samples host CPU and memory usage from procfs.
//
// CPU usage is the busy share of jiffies between two consecutive samples,
// so the first sample after start reports usage since boot.
package sysmon
