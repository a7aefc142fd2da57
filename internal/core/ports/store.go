// Package ports declares the external collaborators the inspector runtime
// consumes but does not implement: the reactive store primitive and the
// plugin/preset loader. Only the interfaces live here.
package ports

import "context"

// Value is an opaque JSON-serializable tree. The inspector never
// deserializes it into a typed model — it is carried by reference through
// every broadcast and persistence path.
type Value = any

// Store is one reactive cell as exposed by the host application.
type Store interface {
	Get() Value
	Set(v Value)
	Subscribe(fn func(Value)) (unsubscribe func())
	Reset()
}

// StoreFactory is the host application's store registry. The inspector
// reads from it, creates plugin-owned stores through it, and subscribes to
// its two global create/change streams.
type StoreFactory interface {
	Get(key string) (Store, bool)
	Has(key string) bool
	Keys() []string
	Create(key string, initial Value) Store
	// Delete removes key, reporting whether it existed. Removal surfaces
	// to change subscribers as a final nil value for the key.
	Delete(key string) bool
	SubscribeCreate(fn func(key string, initial Value)) (unsubscribe func())
	SubscribeChange(fn func(key string, value Value)) (unsubscribe func())
}

// PluginLoadResult is what the (out of scope) plugin loader reports after
// resolving the project's plugin/preset configuration.
type PluginLoadResult struct {
	Loaded     int
	ConfigPath string
	Config     map[string]any
}

// PluginLoader resolves and hot-reloads plugin/preset configuration. The
// loader's own module resolution is out of scope; the core only consumes
// its two outputs.
type PluginLoader interface {
	LoadPlugins(ctx context.Context, root string) (PluginLoadResult, error)
	GetRegistered() map[string]Value
}
