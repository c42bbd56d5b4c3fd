package runner

import (
	"io"

	"github.com/charmbracelet/log"
)

var discard = log.New(io.Discard)
