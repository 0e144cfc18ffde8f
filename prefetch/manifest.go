package prefetch

import (
	"io"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"
)

// The manifest is the JSON document the demo ships naming its assets:
//
//	{
//	  "environmentUrl": "https://assets.example.com/env/gallery.glb",
//	  "lightplanUrl": "https://assets.example.com/env/gallery.lightplan.json",
//	  "additional": [ {"url": "...", "name": "..."}, ... ]
//	}
//
// The environment and light plan come first, in that order, then the
// additional entries in document order.

// ErrBadManifest reports a manifest missing its required fields.
var ErrBadManifest = errors.New("manifest missing environmentUrl")

// ParseManifest reads a manifest document and returns the prefetch requests
// it names, in download order.
func ParseManifest(r io.Reader) ([]Request, error) {
	doc, err := jason.NewObjectFromReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "parse manifest")
	}

	env, err := doc.GetString("environmentUrl")
	if err != nil || env == "" {
		return nil, ErrBadManifest
	}
	requests := []Request{{ID: env, Name: "environment"}}

	if lightplan, err := doc.GetString("lightplanUrl"); err == nil && lightplan != "" {
		requests = append(requests, Request{ID: lightplan, Name: "light plan"})
	}

	additional, err := doc.GetObjectArray("additional")
	if err != nil {
		// the key is optional
		return requests, nil
	}
	for _, obj := range additional {
		url, err := obj.GetString("url")
		if err != nil || url == "" {
			continue
		}
		name, err := obj.GetString("name")
		if err != nil || name == "" {
			name = url
		}
		requests = append(requests, Request{ID: url, Name: name})
	}
	return requests, nil
}
