// Package influxdb mirrors device state changes into InfluxDB.
//
// Every accepted state update is written as a point in the shim_state
// measurement, tagged with the device's ID, name and type. Numeric state
// becomes float fields and booleans become 0/1, so on/off history can be
// graphed next to sensor values. Fired triggers are written to shim_trigger.
//
// Writes are non-blocking and batched by the underlying client. Failed
// batches are logged through SetLogger and counted in WriteStats.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history mirroring off
//	}
//	client.WriteState(influxdb.StatePoint{DeviceID: "d1", Values: state})
package influxdb
