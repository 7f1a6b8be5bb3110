// Package feature switches optional club modules on and off at runtime.
package feature

import (
	"net/http"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
)

// Events is the module covering scheduling and registration.
const Events = "events"

// Toggles holds the enabled state of each module. Unknown modules are off.
type Toggles struct {
	mu      sync.RWMutex
	modules map[string]bool
}

// NewToggles copies the configured module states.
func NewToggles(modules map[string]bool) *Toggles {
	t := &Toggles{modules: make(map[string]bool, len(modules))}
	for name, enabled := range modules {
		t.modules[name] = enabled
	}
	return t
}

// Enabled reports whether the module is on.
func (t *Toggles) Enabled(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.modules[name]
}

// Set turns a module on or off.
func (t *Toggles) Set(name string, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modules[name] = enabled
}

// Snapshot returns the enabled modules, sorted.
func (t *Toggles) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.modules))
	for name, enabled := range t.modules {
		if enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Require aborts with 404 while the module is disabled.
func Require(t *Toggles, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !t.Enabled(name) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "module " + name + " is disabled"})
			return
		}
		c.Next()
	}
}
