package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"threadline.app/feedback/tools/linters/enumvalidator"
)

func main() {
	singlechecker.Main(enumvalidator.Analyzer)
}
