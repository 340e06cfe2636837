package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"ergon.app/erp/tools/linters/enumvalidator"
)

func main() {
	singlechecker.Main(enumvalidator.Analyzer)
}
