package mcpapi

// EmptyArgs is used for tools that take no parameters.
type EmptyArgs struct{}

// ListExtensionsArgs is the list_extensions tool's arguments.
type ListExtensionsArgs struct {
	Namespace string `json:"namespace" description:"Extension namespace to list, e.g. \"local\" or \"org\""`
}

// InstallExtensionArgs is the install_extension tool's arguments.
type InstallExtensionArgs struct {
	Namespace string `json:"namespace" description:"Extension namespace to install into"`
	BaseId    string `json:"base_id" description:"Extension base id, e.g. \"publisher.name\""`
	Version   string `json:"version" description:"Exact version to install, e.g. \"1.2.0\""`
}

// UninstallExtensionArgs is the uninstall_extension tool's arguments.
type UninstallExtensionArgs struct {
	Namespace   string `json:"namespace" description:"Extension namespace to uninstall from"`
	VersionedId string `json:"versioned_id" description:"Versioned extension id, e.g. \"publisher.name@1.2.0\""`
}

// PlayerSeekArgs is the player_seek tool's arguments.
type PlayerSeekArgs struct {
	TimeSec float64 `json:"time_sec" description:"Absolute log time to seek to, in seconds"`
}

// PlayerSetSpeedArgs is the player_set_speed tool's arguments.
type PlayerSetSpeedArgs struct {
	Speed float64 `json:"speed" description:"Playback speed multiplier, must be positive"`
}

// ExtensionView is one metadata row returned by list_extensions.
type ExtensionView struct {
	Id            string `json:"id"`
	MarketplaceId string `json:"marketplaceId"`
	Publisher     string `json:"publisher"`
	Name          string `json:"name"`
	Version       string `json:"version"`
}

// PlayerStateView is the JSON shape returned by player_state: a
// trimmed-down projection of player.State that drops the raw Go error
// values Alerts carries, which aren't safely JSON-encodable.
type PlayerStateView struct {
	Presence      string   `json:"presence"`
	PlayerID      string   `json:"playerId"`
	CurrentTime   float64  `json:"currentTime"`
	StartTime     float64  `json:"startTime"`
	EndTime       float64  `json:"endTime"`
	IsPlaying     bool     `json:"isPlaying"`
	Speed         float64  `json:"speed"`
	LastSeekTime  int      `json:"lastSeekTime"`
	AlertCount    int      `json:"alertCount"`
	AlertMessages []string `json:"alertMessages,omitempty"`
}
