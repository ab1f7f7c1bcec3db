package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	breakCmds
	runCmds
	dataCmds
	stackCmds
	sourceCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Running the program", runCmds},
	{"Manipulating breakpoints", breakCmds},
	{"Viewing the operand stack, memory and variables", dataCmds},
	{"Viewing the call stack and recent operations", stackCmds},
	{"Listing source and procedures", sourceCmds},
	{"Other commands", otherCmds},
}
