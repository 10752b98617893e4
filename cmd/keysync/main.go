package main

import (
	"github.com/citadel-wallet/keysync/cmd/keysync/cmd"
)

func main() {
	cmd.Execute()
}
