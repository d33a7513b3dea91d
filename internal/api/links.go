package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-farmgeo/internal/humastar"
)

// links maps operation paths to their RFC 8288 Link header values.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/farms>; rel="farms"`,
		`</api/v1/farms/points>; rel="points"`,
		`</openapi.json>; rel="service-desc"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/farms>; rel="farms"`,
	},
	"/api/v1/farms": {
		`</api/v1/farms/points>; rel="points"`,
		`</api/v1/farms>; rel="create-form"; method="POST"`,
	},
	"/api/v1/farms/points": {
		`</api/v1/farms>; rel="up"`,
	},
	"/api/v1/farms/{id}": {
		`</api/v1/farms>; rel="collection"`,
	},
	"/api/v1/farms/{id}/fields/{field}": {
		`</api/v1/farms>; rel="collection"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link
// headers, including the actions of bodies that implement humastar.Actor.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		// Item endpoints get a self link
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		if actor, ok := v.(humastar.Actor); ok {
			for _, a := range actor.Actions() {
				ctx.AppendHeader("Link", a.LinkHeader())
			}
		}

		return v, nil
	}
}
