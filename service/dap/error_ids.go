package dap

// Error ids sent in the body of error responses. DAP only requires them to
// be unique, clients use them to tell failures apart.
const (
	UnsupportedCommand int = 9999
	InternalError      int = 8888

	// Session errors.
	FailedToLaunch   = 3000
	NoDebugIsRunning = 3002

	// Request errors.
	UnableToSetBreakpoints     = 2002
	UnableToProduceStackTrace  = 2004
	UnableToListLocals         = 2005
	UnableToListStack          = 2007
	UnableToLookupVariable     = 2008
	UnableToEvaluateExpression = 2009
	UnableToReadMemory         = 2010
)
