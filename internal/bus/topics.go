package bus

// Topics published by the callback router.
const (
	// TopicRemoteLog carries one state.LogEntry per event, in the order
	// the router ingested them.
	TopicRemoteLog = "remote.log"

	// TopicRemotePlayers carries the full replacement presence list
	// ([]state.Player) after each presence push.
	TopicRemotePlayers = "remote.players"
)

// Topics published by the command dispatcher.
const (
	// TopicCommandDispatched carries a state.CommandRecord once a
	// dispatched command has resolved (answer, timeout, or publish
	// failure).
	TopicCommandDispatched = "command.dispatched"
)
