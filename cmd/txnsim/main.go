package main

import (
	"context"

	"github.com/Blackdeer1524/txnsim/cmd/txnsim/app"
)

func main() {
	app.MustExecute(context.Background())
}
