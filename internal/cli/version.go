package cli

import (
	"fmt"

	"github.com/cruciblehq/slipway/internal"
)

// Represents the version command.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(internal.VersionString())
	return nil
}
