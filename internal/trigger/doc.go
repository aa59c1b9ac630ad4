// Package trigger holds the triggers bound to shim devices and fires them.
//
// A trigger watches one device. A deviceUpdated trigger fires whenever a
// message for the device is processed; a stateUpdated trigger fires only
// when its named state was written by that message.
//
// Firing publishes a JSON event to graylogic/shims/trigger/{id} (QoS 1),
// broadcasts it to WebSocket clients on the trigger.fired channel and,
// when telemetry is enabled, records it in InfluxDB.
//
//	reg := trigger.NewRegistry()
//	reg.StartProcessing(trigger.Trigger{ID: "door", Kind: trigger.KindStateUpdated,
//	    DeviceID: "d1", DeviceState: "onOffState", Enabled: true})
//	firer := trigger.NewFirer(mqttClient, hub)
package trigger
