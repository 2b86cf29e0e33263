package providers

import (
	"context"
	"encoding/json"
)

// Document ist eine Datei, die an die Parse-Engine übergeben wird.
type Document struct {
	Filename string
	Data     []byte
}

// Parser ist das Interface der externen Parse-Engine.
type Parser interface {
	// Parse schickt ein Dokument an die Engine und gibt die Antwort unverändert zurück.
	// Fehler sind bereits als transient oder permanent klassifiziert.
	Parse(ctx context.Context, doc Document) (json.RawMessage, error)

	// Name gibt den eindeutigen Namen des Parsers zurück.
	Name() string
}
