// Package config loads, normalizes, and validates reelswap configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENAI_API_KEY and SUPABASE_URL. Worker, HTTP front door, and CLI all read
// the same Config so queue timing, storage location, and provider credentials
// are discovered in one pass.
package config
