// File: bootstrap/recipe.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bootstrap

import (
	"fmt"
	"strings"

	"github.com/momentics/hioload-pipeline/channel"
)

// Stage is one named handler prototype.
type Stage struct {
	Name    string
	Handler channel.Handler
}

// Recipe describes a pipeline. Every channel gets a clone of each stage's
// handler, so shareable handlers are reused and the others are copied.
type Recipe []Stage

// Install appends the recipe's handlers to p.
func (r Recipe) Install(p *channel.Pipeline) error {
	for _, st := range r {
		if err := p.AddLast(st.Name, st.Handler.Clone()); err != nil {
			return fmt.Errorf("install %s: %w", st.Name, err)
		}
	}
	return nil
}

func (r Recipe) String() string {
	names := make([]string, len(r))
	for i, st := range r {
		names[i] = st.Name
	}
	return "Recipe{" + strings.Join(names, ", ") + "}"
}
