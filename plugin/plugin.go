package plugin

// Type is the type of plugin supported by the system.
type Type string

const (
	// Reporter plugins receive harvested metrics tables.
	Reporter Type = "reporter"
)

// Factory is the interface for plugin factories.
type Factory interface {
	// Type returns the plugin type.
	Type() Type
	// Name returns the name of the plugin implementation.
	Name() string
	// ConfigType returns the struct the plugin's configuration is decoded into.
	// Values already set on it act as defaults.
	ConfigType() any
	// Setup initializes a plugin instance based on the configuration.
	Setup(any) (Plugin, error)
	// Destroy releases a plugin instance created by Setup.
	Destroy(Plugin)
}

// Plugin is an instance created by a Factory.
type Plugin interface {
	FactoryName() string
}
