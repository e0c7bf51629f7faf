package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	once   sync.Once
	shared *log.Logger
)

// Logger returns the process-wide logger. Output is one JSON object
// per line on stdout; log shippers and the tests both parse it.
func Logger() *log.Logger {
	once.Do(func() {
		shared = log.New(os.Stdout, "", 0)
	})
	return shared
}

// LogRequest emits one structured line for a completed HTTP request.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"ts":"error","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
