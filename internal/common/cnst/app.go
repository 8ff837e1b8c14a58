package cnst

const (
	// AppName is the name of the application
	AppName = "relay"
	// CommandName is the name of the relay command
	CommandName = "relay"
)

const (
	// RelayYaml is the default relay configuration file name
	RelayYaml = "relay.yaml"
)
