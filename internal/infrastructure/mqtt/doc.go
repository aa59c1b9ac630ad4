// Package mqtt provides the broker connection used by the shims service.
//
// The client wraps paho.mqtt.golang and adds:
//   - auto-reconnect with subscriptions restored on every reconnect
//   - a retained online/offline status on graylogic/shims/status, with a
//     Last Will so crashes are reported as well as clean shutdowns
//   - panic recovery around message handlers
//   - topic helpers for splitting topics and matching subscription filters
//
// Inbound messages are handed to a MessageHandler. The connector package
// subscribes one handler per message type and queues what arrives; the
// shim worker drains those queues.
//
//	Devices ↔ MQTT Broker ↔ mqtt.Client ↔ connector ↔ shim worker
//
// # Thread Safety
//
// All Client methods are safe for concurrent use.
package mqtt
