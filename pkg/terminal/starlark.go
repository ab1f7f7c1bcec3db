package terminal

import (
	"github.com/feltdbg/feltdbg/pkg/terminal/starbind"
	"github.com/feltdbg/feltdbg/service/debugger"
)

type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) Debugger() *debugger.Debugger {
	return ctx.term.debugger
}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	ctx.term.cmds.Register(name, func(t *Term, args string) error {
		return fn(args)
	}, helpMsg)
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.cmds.Call(cmdstr, ctx.term)
}
