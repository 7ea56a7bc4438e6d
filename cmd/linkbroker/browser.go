package main

import (
	"os"

	"github.com/pkg/browser"

	"github.com/dropDatabas3/linkbroker/internal/broker"
)

func init() {
	// stdout queda para el JSON del resultado.
	browser.Stdout = os.Stderr
}

// systemBrowser abre el authorize URL en el browser del sistema. La ventana
// resultante no es observable desde acá: se cierra cuando la página puente
// manda el beacon de pagehide (ver broker.TrackedOpener).
type systemBrowser struct {
	// open permite reemplazar el lanzador en tests.
	open func(url string) error
}

type browserTab struct{}

func (browserTab) Closed() bool { return false }

func (b systemBrowser) Open(url, _ string, _ broker.Geometry) (broker.Window, error) {
	open := b.open
	if open == nil {
		open = browser.OpenURL
	}
	if err := open(url); err != nil {
		// Sin browser no hay ventana: el broker lo trata como popup bloqueado.
		return nil, err
	}
	return browserTab{}, nil
}
