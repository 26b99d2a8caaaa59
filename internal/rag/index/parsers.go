package index

import (
	"sync"

	"github.com/nodeweave/conduit/internal/rag/parser/markdown"
	"github.com/nodeweave/conduit/internal/rag/parser/text"
)

var registerParsersOnce sync.Once

func ensureDefaultParsers() {
	registerParsersOnce.Do(func() {
		markdown.Register()
		text.Register()
	})
}
