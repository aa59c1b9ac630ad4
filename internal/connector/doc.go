// Package connector subscribes to MQTT topic filters and queues the
// received messages by message type until the shim worker fetches them.
//
// Each message type owns a bounded FIFO. When a queue is full the oldest
// message is dropped so a slow consumer never blocks the MQTT delivery
// goroutine. Every accepted message is announced through a notify callback,
// normally shim.Worker.Enqueue.
package connector
