package main

import (
	"log/slog"
	"os"

	"github.com/piataro/credits/internal/cli"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cli.Execute()
}
