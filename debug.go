package electricitymon

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nickcrabtree/electricity-monitoring/meters"
)

// SetupDebugHandlers registers debug endpoints without using tsweb.Debugger
// to avoid pattern conflicts
func SetupDebugHandlers(kraWeb interface {
	Handle(pattern string, handler http.Handler)
}, manager *meters.Manager) {
	kraWeb.Handle("/debug/meters", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := json.MarshalIndent(manager.Snapshot(), "", "  ")
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to marshal debug info: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			return
		}
	}))
}
