// Package events delivers install progress and server log lines to
// interested parties. Publishers never block on slow consumers: the Broker
// drops events for subscribers whose buffers are full and Async decouples a
// producer loop from the publisher it feeds.
package events
