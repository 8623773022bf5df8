package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("QUOTEDESK_TEST_MODE") == "" {
			_ = os.Setenv("QUOTEDESK_TEST_MODE", "1")
		}
	})
}
