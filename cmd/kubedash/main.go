package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/skyhook-io/kubedash/internal/config"
	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
	"github.com/skyhook-io/kubedash/internal/i18n"
)

var version = "dev"

// errReported marks a failure the notifier already printed
var errReported = errors.New("reported")

func main() {
	cfg := config.Load()
	if err := newRootCmd(cfg).Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", describeError(cfg.Language, err))
		}
		os.Exit(1)
	}
}

// describeError translates coded errors; anything else (flag and argument
// errors from cobra) is printed as is.
func describeError(lang string, err error) string {
	if dasherrors.GetCode(err) == 0 {
		return err.Error()
	}
	return i18n.New().Error(lang, err)
}
