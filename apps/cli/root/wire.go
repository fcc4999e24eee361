package root

import (
	"github.com/arcims/arcims-web/apps/cli/cmd/activation"
	"github.com/arcims/arcims-web/apps/cli/cmd/auth"
	"github.com/arcims/arcims-web/apps/cli/cmd/onboard"
)

func init() {
	Root().AddCommand(auth.Command())
	Root().AddCommand(onboard.Command(&api))
	Root().AddCommand(activation.Command(&api))
}
