package fixtures

import (
	_ "embed"
)

//go:embed config/devinfo.yaml.template
var ConfigTemplate []byte
