package cmd

// commandDocs documentation info used for help command.
type commandDocs struct {
	name    string
	params  string
	summary string
	numArgs int // arguments after the name, -1 for any
}

// cliCommands are handled by the client itself, everything else is sent to
// the server.
var cliCommands = []commandDocs{
	{name: "help", summary: "Show this help.", numArgs: 0},
	{name: "connect", params: "<host> <port>", summary: "Connect to another server.", numArgs: 2},
	{name: "clear", summary: "Clear the screen.", numArgs: 0},
	{name: "quit", summary: "Leave the client.", numArgs: 0},
	{name: "exit", summary: "Leave the client.", numArgs: 0},
}

func lookupCommand(name string, argc int) (commandDocs, bool) {
	for _, c := range cliCommands {
		if c.name == name && (c.numArgs < 0 || c.numArgs == argc-1) {
			return c, true
		}
	}
	return commandDocs{}, false
}
