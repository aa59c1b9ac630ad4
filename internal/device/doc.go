// Package device stores shim devices, their state and their state schema.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                         Registry                             │
//	│  • in-memory cache   • change listeners   • state writes     │
//	└────────┬─────────────────────┬───────────────────┬───────────┘
//	         │                     │                   │
//	         ▼                     ▼                   ▼
//	┌────────────────┐   ┌──────────────────┐   ┌─────────────────┐
//	│   Repository   │   │  SchemaRegistry  │   │  StateHistory   │
//	│ (devices)      │   │ (declared keys)  │   │ (snapshots)     │
//	└────────────────┘   └──────────────────┘   └─────────────────┘
//
// State values and the list of state keys a device may hold are kept
// apart. Every device type has a fixed set of base keys (see BaseKeys);
// keys discovered from payloads at runtime must be declared through the
// SchemaRegistry before a value can be written for them. UpdateStates
// rejects undeclared keys with ErrStateNotDeclared.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//	schema := device.NewSchemaRegistry(device.NewSQLiteSchemaRepository(db))
//	registry := device.NewRegistry(repo, schema)
//	registry.SetLogger(log)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	err := registry.UpdateStates(ctx, id, []device.StateUpdate{
//	    {Key: device.StateOnOff, Value: true},
//	})
//
// # Thread Safety
//
// Registry and SchemaRegistry are safe for concurrent use.
package device
