package artifacts

import _ "embed"

// Embedded templates

//go:embed templates/config.yaml
var DefaultConfig []byte
