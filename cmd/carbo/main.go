package main

import (
	"github.com/santiagomed/carbo/cli"
	"github.com/santiagomed/carbo/logger"
)

func main() {
	logger.Init()
	cli.Execute()
}
