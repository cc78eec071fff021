package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/cube2222/udfbridge/cmd"
	"github.com/cube2222/udfbridge/logs"
)

func main() {
	logs.InitializeFileLogger()
	defer logs.CloseLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cmd.Execute(ctx)
}
