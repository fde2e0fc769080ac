// Package assets embeds the gateway's web console.
package assets

import (
	"embed"
	"fmt"
)

//go:embed files/console.html
var fs embed.FS

func ConsolePage() ([]byte, error) {
	b, err := fs.ReadFile("files/console.html")
	if err != nil {
		return nil, fmt.Errorf("read embedded console page: %w", err)
	}
	return b, nil
}
