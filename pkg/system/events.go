package system

// PropertiesChanged is published when a system property (a safety limit or
// one of the fixed operating currents) is changed.
type PropertiesChanged struct {
	System   *ProductionSystem
	Property string
}

func (PropertiesChanged) Name() string { return "system.properties-changed" }

// SafeModeEntered is published when the safety monitor forces the system
// into its safe mode.
type SafeModeEntered struct {
	System *ProductionSystem
}

func (SafeModeEntered) Name() string { return "system.safe-mode-entered" }
