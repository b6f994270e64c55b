// Thirra assembles LLM context windows from conversation memory and runs chat turns.
//
// Usage:
//
//	# Interactive chat on a new conversation
//	thirra chat
//
//	# Resume a conversation with a custom config
//	thirra chat --conversation 1f0c... --config ./config.yaml
//
//	# Parse a model reply in the four-brace block format
//	thirra parse reply.txt --expect-title
//
//	# Show how a query would be routed
//	thirra route "refactor this golang function"
//
//	# Apply the turn store migrations
//	thirra migrate
package main

func main() {
	Execute()
}
