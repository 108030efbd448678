package main

import (
	"os"

	"github.com/lu-zhengda/icloud-to-gmail/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
