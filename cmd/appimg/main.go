package main

import (
	appimg "github.com/0xa1bed0/appimg/internal/apps/appimg/cmds"
	"github.com/0xa1bed0/appimg/internal/runtime"
)

func main() {
	var execErr error

	rt := runtime.NewRuntime()
	defer rt.Finalize("appimg", "Type 'appimg help' to get help.", &execErr)

	execErr = appimg.Execute(rt)
}
