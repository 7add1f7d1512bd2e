// Package allproviders imports all LLM providers to register them.
// Import this package if you want all providers to be available:
//
//	import _ "github.com/olympus-org/olympus/internal/llm/allproviders"
package allproviders

import (
	_ "github.com/olympus-org/olympus/internal/llm/providers/llamacpp"
	_ "github.com/olympus-org/olympus/internal/llm/providers/ollama"
	_ "github.com/olympus-org/olympus/internal/llm/providers/stub"
)
