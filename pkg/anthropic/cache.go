package anthropic

// BuildCachedSystemBlocks returns a system prompt with a one-hour cache
// breakpoint. Assessment prompts share a long rubric preamble, so every
// call after the first reads it from cache.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: "1h"}}}
}
