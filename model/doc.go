// Package model defines the provider-neutral language model contract the
// reasoning loop drives. Requests carry the normalized transcript, tool
// definitions and an optional JSON schema response format; responses come
// back over channels so streaming and non-streaming providers share one
// shape. Concrete adapters live in the openai and anthropic subpackages.
package model
