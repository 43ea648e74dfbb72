// Package supervisor starts, observes and stops inference server processes.
//
// Start locates the installed executable, refuses variants the host CPU
// cannot run, spawns the server on a loopback port, records its pid and
// streams both output pipes line by line to an events.Publisher. Stop reads
// the recorded pid, terminates the whole process tree and always clears the
// record. Callers serialize Start and Stop per server kind.
package supervisor
