// Package llm defines the generate contract every model backend implements
// and the provider-independent pieces layered on top of it: failure
// detection and a retrying decorator. Concrete backends live in the
// sub-packages (openai, gemini, anthropic, ollama, pythonbridge) and are
// selected from configuration by the provider package.
package llm
